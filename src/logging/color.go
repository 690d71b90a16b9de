package logging

import (
	"os"
	"runtime"
)

// ANSI escapes for the pretty writer. All empty when colors are off.
var (
	colorReset    = "\033[0m"
	colorBold     = "\033[1m"
	colorRed      = "\033[31m"
	colorBlue     = "\033[34m"
	colorGray     = "\033[37m"
	colorBgRed    = "\033[41m"
	colorBgYellow = "\033[43m"
	colorBgBlue   = "\033[44m"
)

func init() {
	// https://no-color.org
	if _, noColor := os.LookupEnv("NO_COLOR"); noColor || runtime.GOOS == "windows" {
		disableColors()
	}
}

func disableColors() {
	colorReset, colorBold = "", ""
	colorRed, colorBlue, colorGray = "", "", ""
	colorBgRed, colorBgYellow, colorBgBlue = "", "", ""
}
