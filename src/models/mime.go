package models

import (
	"strings"
)

// Lower-cases a mime type and strips any parameters, so that
// "Image/PNG; charset=binary" becomes "image/png".
func NormalizeMime(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return strings.ToLower(strings.TrimSpace(mime))
}

func AssetTypeForMime(mime string) AssetType {
	mime = NormalizeMime(mime)
	switch {
	case strings.HasPrefix(mime, "image/"):
		return AssetTypeImage
	case strings.HasPrefix(mime, "video/"):
		return AssetTypeVideo
	case strings.HasPrefix(mime, "audio/"):
		return AssetTypeAudio
	case mime == "application/pdf":
		return AssetTypePDF
	case strings.Contains(mime, "wordprocessingml"), strings.Contains(mime, "msword"), strings.Contains(mime, "opendocument.text"):
		return AssetTypeDoc
	case strings.Contains(mime, "spreadsheetml"), strings.Contains(mime, "ms-excel"), strings.Contains(mime, "opendocument.spreadsheet"):
		return AssetTypeXls
	case strings.Contains(mime, "presentationml"), strings.Contains(mime, "ms-powerpoint"), strings.Contains(mime, "opendocument.presentation"):
		return AssetTypePpt
	}
	return AssetTypeOther
}

// Reports whether the mime belongs to one of the office document families that
// can be converted to PDF.
func IsOfficeMime(mime string) bool {
	mime = NormalizeMime(mime)
	for _, family := range []string{
		"wordprocessingml", "msword",
		"spreadsheetml", "ms-excel",
		"presentationml", "ms-powerpoint",
		"opendocument",
	} {
		if strings.Contains(mime, family) {
			return true
		}
	}
	return false
}
