package constants

import "strings"

// ImportExtensions holds the spreadsheet formats accepted by the importer.
var ImportExtensions = map[string]struct{}{
	"csv":  {},
	"xlsx": {},
}

// ImageMimeTypes maps accepted scan extensions to the MIME type sent to the extractor.
var ImageMimeTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"webp": "image/webp",
	"gif":  "image/gif",
}

// DefaultCurrency is used when a receipt does not carry one.
const DefaultCurrency = "USD"

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
