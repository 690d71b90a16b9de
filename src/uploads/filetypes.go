package uploads

import (
	"path/filepath"
	"strings"

	"git.handmade.network/hmn/assetpipe/src/models"
	"git.handmade.network/hmn/assetpipe/src/oops"
)

var AllowedMimeTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/tiff": true,
	"image/bmp":  true,

	"application/pdf": true,

	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
	"application/msword":                              true,
	"application/vnd.ms-excel":                        true,
	"application/vnd.ms-powerpoint":                   true,
	"application/vnd.oasis.opendocument.text":         true,
	"application/vnd.oasis.opendocument.spreadsheet":  true,
	"application/vnd.oasis.opendocument.presentation": true,

	"video/mp4":  true,
	"video/webm": true,
	"video/ogg":  true,
	"audio/mpeg": true,
	"audio/wav":  true,
	"audio/ogg":  true,
}

var BlockedExtensions = map[string]bool{
	".exe": true,
	".bat": true,
	".cmd": true,
	".com": true,
	".scr": true,
	".vbs": true,
	".js":  true,
	".jar": true,
	".app": true,
	".dmg": true,
	".pkg": true,
	".deb": true,
	".rpm": true,
	".sh":  true,
}

// Rejects executable file extensions and mime types outside the allow-list.
// Any image, video, or audio type is accepted.
func CheckFileType(fileName, mime string) error {
	ext := strings.ToLower(filepath.Ext(fileName))
	if BlockedExtensions[ext] {
		return oops.Validation("files with extension %s are not allowed", ext)
	}

	mime = models.NormalizeMime(mime)
	if AllowedMimeTypes[mime] {
		return nil
	}
	for _, prefix := range []string{"image/", "video/", "audio/"} {
		if strings.HasPrefix(mime, prefix) {
			return nil
		}
	}
	return oops.Validation("mime type %q is not allowed", mime)
}
