// Package loader turns uploaded files, web pages and YouTube videos into
// plain-text documents ready for splitting.
package loader

import (
	"errors"
	"net/url"
	"strings"

	"github.com/kalambet/workbench/internal/retrieval"
)

var (
	// ErrUnsupported is returned for inputs no loader accepts.
	ErrUnsupported = errors.New("unsupported source")
	// ErrNoCaptions is returned for videos without any caption track.
	ErrNoCaptions = errors.New("video has no captions")
)

// Document is one unit of loaded text: a PDF page, a web page or a transcript.
type Document struct {
	Text     string
	Title    string
	Language string
	Page     int
}

// IsYouTubeURL reports whether u points at YouTube.
func IsYouTubeURL(u string) bool {
	return strings.Contains(u, "youtube.com") || strings.Contains(u, "youtu.be")
}

// Classify picks the source type for a URL. Anything that is not a YouTube
// link must be an https web page.
func Classify(origin string) (retrieval.SourceType, error) {
	if IsYouTubeURL(origin) {
		return retrieval.SourceVideo, nil
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return "", ErrUnsupported
	}
	if u.Scheme != "https" {
		return "", ErrUnsupported
	}
	return retrieval.SourceWeb, nil
}
