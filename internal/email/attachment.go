package email

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Attachment is a file loaded for delivery.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// LoadAttachment reads the file at path in full and detects its MIME type
// from the content.
func LoadAttachment(path string) (Attachment, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("failed to read attachment: %w", err)
	}

	return Attachment{
		Filename:    filepath.Base(path),
		ContentType: DetectContentType(content),
		Content:     content,
	}, nil
}

// DetectContentType returns the media type of content without parameters,
// e.g. "text/plain" rather than "text/plain; charset=utf-8".
func DetectContentType(content []byte) string {
	mediaType := mimetype.Detect(content).String()
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = strings.TrimSpace(mediaType[:i])
	}
	return mediaType
}
