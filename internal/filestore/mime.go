package filestore

import "strings"

// mimeEntry is one row of the fixed extension classification table (§6).
type mimeEntry struct {
	mimeType string
	binary   bool
}

var mimeTable = map[string]mimeEntry{
	".css":      {"text/css", false},
	".png":      {"image/png", true},
	".jpg":      {"image/jpeg", true},
	".jpeg":     {"image/jpeg", true},
	".gif":      {"image/gif", true},
	".bmp":      {"image/bmp", true},
	".ico":      {"image/x-icon", true},
	".webp":     {"image/webp", true},
	".wbmp":     {"image/vnd.wap.wbmp", true},
	".tif":      {"image/tiff", true},
	".tiff":     {"image/tiff", true},
	".svg":      {"image/svg+xml", false},
	".js":       {"application/javascript", false},
	".mjs":      {"application/javascript", false},
	".html":     {"text/html", false},
	".htm":      {"text/html", false},
	".json":     {"application/json", false},
	".md":       {"text/markdown", false},
	".xml":      {"text/xml", false},
	".txt":      {"text/plain", false},
	".csv":      {"text/csv", false},
	".ttf":      {"font/ttf", true},
	".otf":      {"font/otf", true},
	".woff":     {"font/woff", true},
	".woff2":    {"font/woff2", true},
	".eot":      {"application/vnd.ms-fontobject", true},
	".mp3":      {"audio/mpeg", true},
	".wav":      {"audio/wav", true},
	".ogg":      {"audio/ogg", true},
	".mp4":      {"video/mp4", true},
	".webm":     {"video/webm", true},
	".mov":      {"video/quicktime", true},
	".avi":      {"video/x-msvideo", true},
	".doc":      {"application/msword", true},
	".docx":     {"application/vnd.openxmlformats-officedocument.wordprocessingml.document", true},
	".xls":      {"application/vnd.ms-excel", true},
	".xlsx":     {"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", true},
	".ppt":      {"application/vnd.ms-powerpoint", true},
	".pptx":     {"application/vnd.openxmlformats-officedocument.presentationml.presentation", true},
	".manifest": {"text/cache-manifest", false},
	".gz":       {"application/gzip", true},
	".gzip":     {"application/gzip", true},
	".zip":      {"application/zip", true},
	".pdf":      {"application/pdf", true},
}

// defaultMimeType/defaultBinary is the fallback for unrecognised
// extensions (§6 "Default fallback: text/javascript, non-binary").
const (
	defaultMimeType = "text/javascript"
	defaultBinary   = false
)

// classify returns the (mimeType, binary) pair for name's extension.
func classify(name string) (string, bool) {
	ext := strings.ToLower(pathExt(name))
	if entry, ok := mimeTable[ext]; ok {
		return entry.mimeType, entry.binary
	}
	return defaultMimeType, defaultBinary
}

func pathExt(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return name[i:]
}
