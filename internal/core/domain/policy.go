package domain

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	MimePlainText = "text/plain"
	MimeMarkdown  = "text/markdown"
	MimeHTML      = "text/html"
	MimeJSON      = "application/json"
	MimePDF       = "application/pdf"
	MimeDOCX      = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeXLSX      = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var extensionMimeTypes = map[string]string{
	".txt":      MimePlainText,
	".text":     MimePlainText,
	".log":      MimePlainText,
	".md":       MimeMarkdown,
	".markdown": MimeMarkdown,
	".html":     MimeHTML,
	".htm":      MimeHTML,
	".json":     MimeJSON,
	".pdf":      MimePDF,
	".docx":     MimeDOCX,
	".xlsx":     MimeXLSX,
}

// MimeTypeFor derives the mime type from the filename extension; unknown extensions yield "".
func MimeTypeFor(filename string) string {
	return extensionMimeTypes[strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))]
}

// UploadPolicy bounds what RequestUpload accepts.
type UploadPolicy struct {
	MaxBytes         int64
	AllowedMimeTypes []string
}

func DefaultAllowedMimeTypes() []string {
	return []string{MimePDF, MimeDOCX, MimePlainText, MimeHTML, MimeMarkdown, MimeJSON}
}

func (p UploadPolicy) allows(mimeType string) bool {
	for _, allowed := range p.AllowedMimeTypes {
		if strings.EqualFold(strings.TrimSpace(allowed), mimeType) {
			return true
		}
	}
	return false
}

// Validate returns the derived mime type or an ErrInvalidInput describing the violation.
func (p UploadPolicy) Validate(req UploadRequest) (string, error) {
	if strings.TrimSpace(req.Filename) == "" {
		return "", WrapError(ErrInvalidInput, "validate upload", errors.New("filename is required"))
	}
	if strings.TrimSpace(req.UserID) == "" {
		return "", WrapError(ErrInvalidInput, "validate upload", errors.New("user_id is required"))
	}
	if req.DeclaredSize <= 0 {
		return "", WrapError(ErrInvalidInput, "validate upload", errors.New("file_size must be positive"))
	}
	if p.MaxBytes > 0 && req.DeclaredSize > p.MaxBytes {
		return "", WrapError(ErrInvalidInput, "validate upload",
			fmt.Errorf("file_size %d exceeds limit of %d bytes", req.DeclaredSize, p.MaxBytes))
	}

	mimeType := MimeTypeFor(req.Filename)
	if mimeType == "" || !p.allows(mimeType) {
		return "", WrapError(ErrInvalidInput, "validate upload",
			fmt.Errorf("file type of %q is not supported", filepath.Base(req.Filename)))
	}
	return mimeType, nil
}
