package main

import (
	_ "git.handmade.network/hmn/assetpipe/src/admintools"
	_ "git.handmade.network/hmn/assetpipe/src/migration"
	"git.handmade.network/hmn/assetpipe/src/website"
)

func main() {
	website.AssetpipeCommand.Execute()
}
