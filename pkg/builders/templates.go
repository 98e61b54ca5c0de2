package builders

import (
	"bytes"
	"embed"
	"encoding/json"
	"strings"
	"text/template"

	"github.com/wpkernel/wpkernel-sub000/pkg/ir"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("wpk").Funcs(template.FuncMap{
	"str":    tsString,
	"php":    phpString,
	"pascal": ir.Sanitize,
}).ParseFS(templateFS, "templates/*.tmpl"))

func render(name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// tsString quotes s as a double-quoted TypeScript string literal.
func tsString(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(buf.String(), "\n")
}

// phpString quotes s as a single-quoted PHP string literal.
func phpString(s string) string {
	return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s) + "'"
}

func camel(s string) string {
	p := ir.Sanitize(s)
	if p == "" {
		return p
	}
	return strings.ToLower(p[:1]) + p[1:]
}
