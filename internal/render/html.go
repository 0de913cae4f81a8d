// Package render turns message payloads into something a person can read:
// HTML fragments for the web page and ANSI text for the terminal.
//
// Code is only ever displayed. Nothing here evaluates model output.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/RichardoC/talknow/internal/models"
)

// HTML renders payloads as HTML fragments.
type HTML struct {
	md        goldmark.Markdown
	policy    *bluemonday.Policy
	formatter *chromahtml.Formatter
	style     *chroma.Style
}

func NewHTML() *HTML {
	return &HTML{
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		policy: bluemonday.UGCPolicy(),
		formatter: chromahtml.New(
			chromahtml.WithClasses(false),
			chromahtml.TabWidth(2),
		),
		style: codeStyle(),
	}
}

var fragments = template.Must(template.New("table").Parse(
	`<div class="tn-table"><table><thead><tr>{{range .Headers}}<th>{{.}}</th>{{end}}</tr></thead>` +
		`<tbody>{{range .Rows}}<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>{{end}}</tbody></table></div>`,
))

func init() {
	template.Must(fragments.New("slides").Parse(
		`<div class="tn-slides">{{range .}}<section class="tn-slide"><h3>{{.Title}}</h3>` +
			`<div class="tn-slide-body">{{.Body}}</div></section>{{end}}</div>`,
	))
	template.Must(fragments.New("code").Parse(
		`<div class="tn-code"><div class="tn-code-header">Code - {{.Language}}</div>{{.Body}}</div>`,
	))
}

// Message renders a stored message. User text is escaped verbatim; assistant
// payloads are rendered by type.
func (h *HTML) Message(m models.Message) (template.HTML, error) {
	if m.Role == models.RoleUser {
		return template.HTML(`<div class="tn-user">` + template.HTMLEscapeString(models.PlainText(m.Content)) + `</div>`), nil
	}
	return h.Payload(m.Content, m.Language)
}

// Payload renders p. language only matters for code.
func (h *HTML) Payload(p models.Payload, language string) (template.HTML, error) {
	switch v := p.(type) {
	case models.Code:
		return h.code(string(v), language)
	case *models.Table:
		var buf bytes.Buffer
		if err := fragments.ExecuteTemplate(&buf, "table", v); err != nil {
			return "", fmt.Errorf("failed to render table: %w", err)
		}
		return template.HTML(buf.String()), nil
	case models.Slides:
		type slide struct {
			Title string
			Body  template.HTML
		}
		rendered := make([]slide, 0, len(v))
		for _, s := range v {
			body, err := h.Markdown(s.Content)
			if err != nil {
				return "", err
			}
			rendered = append(rendered, slide{Title: s.Title, Body: body})
		}
		var buf bytes.Buffer
		if err := fragments.ExecuteTemplate(&buf, "slides", rendered); err != nil {
			return "", fmt.Errorf("failed to render slides: %w", err)
		}
		return template.HTML(buf.String()), nil
	case models.Text:
		return h.Markdown(string(v))
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("no renderer for %T", p)
	}
}

// Markdown converts GitHub-flavoured markdown to sanitised HTML.
func (h *HTML) Markdown(src string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := h.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return template.HTML(`<div class="tn-markdown">` + string(h.policy.SanitizeBytes(buf.Bytes())) + `</div>`), nil
}

func (h *HTML) code(src, language string) (template.HTML, error) {
	if language == "" {
		language = "javascript"
	}
	var body string
	iterator, err := lexerFor(src, language).Tokenise(nil, src)
	if err == nil {
		var buf strings.Builder
		if err = h.formatter.Format(&buf, h.style, iterator); err == nil {
			body = buf.String()
		}
	}
	if err != nil {
		body = "<pre>" + template.HTMLEscapeString(src) + "</pre>"
	}

	var out bytes.Buffer
	if err := fragments.ExecuteTemplate(&out, "code", struct {
		Language string
		Body     template.HTML
	}{language, template.HTML(body)}); err != nil {
		return "", fmt.Errorf("failed to render code: %w", err)
	}
	return template.HTML(out.String()), nil
}
