package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

// SafeHTML is a template function that marks a string as safe HTML
func SafeHTML(s interface{}) template.HTML {
	switch v := s.(type) {
	case string:
		return template.HTML(v)
	case template.HTML:
		return v
	default:
		return template.HTML("")
	}
}

//go:embed templates/*.html
var templateFS embed.FS

var policyTemplate *template.Template

func init() {
	// Custom template functions
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"safeHTML": SafeHTML,
	}

	templateContent, err := templateFS.ReadFile("templates/policy.html")
	if err != nil {
		// Fallback to built-in template if file not found
		policyTemplate = template.Must(template.New("policy").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	policyTemplate = template.Must(template.New("policy").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for policy template rendering
type TemplateData struct {
	Title       string
	ContentHTML template.HTML
	OrgName     string
	Department  string
	Version     int
	UpdatedAt   time.Time
}

// RenderPolicyHTML renders the policy template with provided data
func RenderPolicyHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := policyTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.OrgName}}{{if .Department}} | {{.Department}}{{end}} | v{{.Version}} | {{.UpdatedAt.Format "Jan 2, 2006"}}</div>
  <div>{{.ContentHTML | safeHTML}}</div>
</body>
</html>`
