package utils

import (
	"mime"
	"net/http"
	"path/filepath"
)

// DetectMime guesses a media type from the file extension first, then from
// the data signature, falling back to defaultMime.
func DetectMime(path string, data []byte, defaultMime string) string {
	detectedMime := ""

	// try file extension
	if fileExt := filepath.Ext(path); fileExt != "" {
		detectedMime = mime.TypeByExtension(fileExt)
		if detectedMime != "" {
			mediaType, _, err := mime.ParseMediaType(detectedMime)
			if err == nil {
				detectedMime = mediaType
			}
		}
	}

	// try data signature
	if detectedMime == "" && len(data) > 0 {
		detectedMime = http.DetectContentType(data)
	}

	// backup to a passed default
	if detectedMime == "" {
		detectedMime = defaultMime
	}

	return detectedMime
}
