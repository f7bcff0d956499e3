package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakePDF struct {
	renderPDFFn func(ctx context.Context, html string) ([]byte, error)
}

func (f fakePDF) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	return f.renderPDFFn(ctx, html)
}

func testPages() []Page {
	return []Page{
		{ID: 1, AuthorNickname: "ada", Content: "Once upon a time", ImageURL: "https://cdn.test/1.png"},
		{ID: 2, AuthorNickname: "grace", Content: "a <script>alert(1)</script> appeared", ImageURL: "https://cdn.test/2.png"},
		{ID: 3, AuthorNickname: "ada", Content: "The end"},
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Once upon a time", "Once-upon-a-time"},
		{"  padded  ", "padded"},
		{"émoji 🐉 dragon", "moji--dragon"},
		{"", "story"},
		{"!!!", "story"},
		{strings.Repeat("a", 80), strings.Repeat("a", 50)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"test+sign", "test%2Bsign"},
		{"special<>", "special%3C%3E"},
		{"normal-text.txt", "normal-text.txt"},
		{"é", "%C3%A9"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := percentEncodeForDataURL(tt.input)
			if result != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestRenderStorybookHTML(t *testing.T) {
	html, err := RenderStorybookHTML(TemplateData{
		Title:       "Once upon a time",
		Pages:       testPages(),
		Authors:     uniqueAuthors(testPages()),
		GeneratedAt: time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("RenderStorybookHTML() error = %v", err)
	}

	for _, want := range []string{
		"<title>Once upon a time</title>",
		"3 pages | ada, grace | Mar 9, 2024",
		`id="story-1"`,
		`src="https://cdn.test/2.png"`,
		"Page 3",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
	if strings.Contains(html, "<script>alert(1)</script>") {
		t.Error("story content must be escaped")
	}
	first, last := strings.Index(html, `id="story-1"`), strings.Index(html, `id="story-3"`)
	if first < 0 || last < first {
		t.Error("pages must render root first")
	}
}

func TestExportHTML(t *testing.T) {
	svc := NewService(nil)

	result, err := svc.Export(context.Background(), Request{Title: "Once upon a time", Pages: testPages()})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.Filename != "Once-upon-a-time.html" || !strings.HasPrefix(result.MimeType, "text/html") {
		t.Fatalf("unexpected result metadata: %s %s", result.Filename, result.MimeType)
	}
	if !strings.Contains(string(result.Data), "Once upon a time") {
		t.Fatal("HTML export missing content")
	}
}

func TestExportPDF(t *testing.T) {
	var rendered string
	svc := NewService(fakePDF{renderPDFFn: func(_ context.Context, html string) ([]byte, error) {
		rendered = html
		return []byte("%PDF-1.7"), nil
	}})

	result, err := svc.Export(context.Background(), Request{Title: "Tale", Pages: testPages(), Format: FormatPDF})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.Filename != "Tale.pdf" || result.MimeType != "application/pdf" || string(result.Data) != "%PDF-1.7" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !strings.Contains(rendered, "The end") {
		t.Fatal("renderer did not receive the storybook HTML")
	}
}

func TestExportErrors(t *testing.T) {
	svc := NewService(nil)

	if _, err := svc.Export(context.Background(), Request{Title: "x"}); !errors.Is(err, ErrEmptyPath) {
		t.Fatalf("expected ErrEmptyPath, got %v", err)
	}
	if _, err := svc.Export(context.Background(), Request{Pages: testPages(), Format: "docx"}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if _, err := svc.Export(context.Background(), Request{Pages: testPages(), Format: FormatPDF}); !errors.Is(err, ErrPDFDependencyMissing) {
		t.Fatalf("expected ErrPDFDependencyMissing, got %v", err)
	}
}

func TestChromePDFWithoutBrowser(t *testing.T) {
	renderer := ChromePDF{LookPath: func(string) (string, error) { return "", errors.New("not found") }}

	_, err := renderer.RenderPDF(context.Background(), "<html></html>")
	if !errors.Is(err, ErrPDFDependencyMissing) {
		t.Fatalf("expected ErrPDFDependencyMissing, got %v", err)
	}
}
