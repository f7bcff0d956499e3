package export

import (
	"context"
	"fmt"
	"time"
)

// Service provides path export functionality
type Service struct {
	pdf PDFRenderer
	now func() time.Time
}

// NewService creates a new export service. pdf may be nil, in which case PDF
// exports fail with ErrPDFDependencyMissing.
func NewService(pdf PDFRenderer) *Service {
	return &Service{pdf: pdf, now: time.Now}
}

// Export renders the pages as a storybook in the requested format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if len(req.Pages) == 0 {
		return nil, ErrEmptyPath
	}
	if req.Format == "" {
		req.Format = FormatHTML
	}
	if req.Format != FormatHTML && req.Format != FormatPDF {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}

	html, err := RenderStorybookHTML(TemplateData{
		Title:       req.Title,
		Pages:       req.Pages,
		Authors:     uniqueAuthors(req.Pages),
		GeneratedAt: s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	filename := sanitizeFilename(req.Title)

	if req.Format == FormatHTML {
		return &Result{
			Data:     []byte(html),
			Filename: filename + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	}

	if s.pdf == nil {
		return nil, ErrPDFDependencyMissing
	}
	data, err := s.pdf.RenderPDF(ctx, html)
	if err != nil {
		return nil, err
	}
	return &Result{
		Data:     data,
		Filename: filename + ".pdf",
		MimeType: "application/pdf",
	}, nil
}
