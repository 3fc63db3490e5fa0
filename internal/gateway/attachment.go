package gateway

import (
	"net/url"
	"path"
	"strings"
)

// PayloadKind is the JSON field a media URL travels in.
type PayloadKind string

const (
	KindImage    PayloadKind = "imageUrl"
	KindVideo    PayloadKind = "videoUrl"
	KindDocument PayloadKind = "documentUrl"
)

var extensionKinds = map[string]PayloadKind{
	".jpg":  KindImage,
	".jpeg": KindImage,
	".png":  KindImage,
	".gif":  KindImage,
	".webp": KindImage,
	".mp4":  KindVideo,
	".mov":  KindVideo,
	".avi":  KindVideo,
	".mkv":  KindVideo,
}

// Classify maps a resource URL to its payload kind by extension.
// Unknown or missing extensions are sent as documents.
func Classify(resource string) PayloadKind {
	p := resource
	if u, err := url.Parse(resource); err == nil && u.Path != "" {
		p = u.Path
	}
	if kind, ok := extensionKinds[strings.ToLower(path.Ext(p))]; ok {
		return kind
	}
	return KindDocument
}
