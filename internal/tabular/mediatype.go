package tabular

import "strings"

// MediaType returns the media type used when saving a file of the given format.
func MediaType(format string) string {
	switch strings.ToLower(format) {
	case "csv":
		return "text/csv"
	case "json":
		return "application/json"
	case "pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// Extension returns the file extension, with a leading dot, for format.
func Extension(format string) string {
	switch f := strings.ToLower(format); f {
	case "csv", "json", "pdf":
		return "." + f
	default:
		return ".bin"
	}
}
