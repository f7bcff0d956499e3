package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var storybookTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"join": strings.Join,
		"inc":  func(i int) int { return i + 1 },
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}

	templateContent, err := templateFS.ReadFile("templates/storybook.html")
	if err != nil {
		storybookTemplate = template.Must(template.New("storybook").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	storybookTemplate = template.Must(template.New("storybook").Funcs(funcMap).Parse(string(templateContent)))
}

// RenderStorybookHTML renders the storybook template with provided data
func RenderStorybookHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := storybookTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// uniqueAuthors lists authors in order of first appearance.
func uniqueAuthors(pages []Page) []string {
	seen := make(map[string]bool, len(pages))
	authors := make([]string, 0, len(pages))
	for _, p := range pages {
		if p.AuthorNickname == "" || seen[p.AuthorNickname] {
			continue
		}
		seen[p.AuthorNickname] = true
		authors = append(authors, p.AuthorNickname)
	}
	return authors
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{join .Authors ", "}} | {{formatDate .GeneratedAt "Jan 2, 2006"}}</div>
  {{range $i, $p := .Pages}}
  <section class="page" id="story-{{$p.ID}}">
    {{if $p.ImageURL}}<img src="{{$p.ImageURL}}" alt="Illustration for page {{inc $i}}">{{end}}
    <p>{{$p.Content}}</p>
    <div class="author">{{$p.AuthorNickname}}</div>
  </section>
  {{end}}
</body>
</html>`
