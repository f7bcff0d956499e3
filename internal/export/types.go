// Package export renders a story path as an HTML storybook or a PDF.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// Page is one story node of the exported path.
type Page struct {
	ID             int64
	AuthorNickname string
	Content        string
	ImageURL       string
}

// Request contains parameters for an export operation. Pages are root-first.
type Request struct {
	Title  string
	Pages  []Page
	Format Format
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrEmptyPath indicates there is nothing to export.
	ErrEmptyPath = errors.New("export path is empty")
	// ErrUnsupportedFormat indicates the requested format is not known.
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)

// TemplateData holds data for storybook template rendering
type TemplateData struct {
	Title       string
	Pages       []Page
	Authors     []string
	GeneratedAt time.Time
}
