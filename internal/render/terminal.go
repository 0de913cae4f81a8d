package render

import (
	"fmt"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/RichardoC/talknow/internal/models"
)

// Terminal renders payloads for a terminal. With color off the output is
// plain text, which keeps piped output readable.
type Terminal struct {
	md    *glamour.TermRenderer
	color bool

	header lipgloss.Style
	title  lipgloss.Style
}

func NewTerminal(width int, color bool) (*Terminal, error) {
	if width <= 0 {
		width = 80
	}
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if color {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle("notty"))
	}
	md, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
	}

	t := &Terminal{md: md, color: color}
	if color {
		t.header = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
		t.title = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	}
	return t, nil
}

func (t *Terminal) Payload(p models.Payload, language string) (string, error) {
	switch v := p.(type) {
	case models.Code:
		return t.code(string(v), language), nil
	case *models.Table:
		return t.table(v), nil
	case models.Slides:
		var b strings.Builder
		for i, s := range v {
			fmt.Fprintf(&b, "%s\n", t.title.Render(fmt.Sprintf("[%d/%d] %s", i+1, len(v), s.Title)))
			body, err := t.Markdown(s.Content)
			if err != nil {
				return "", err
			}
			b.WriteString(body)
		}
		return b.String(), nil
	case models.Text:
		return t.Markdown(string(v))
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("no renderer for %T", p)
	}
}

func (t *Terminal) Markdown(src string) (string, error) {
	out, err := t.md.Render(src)
	if err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return out, nil
}

func (t *Terminal) code(src, language string) string {
	if language == "" {
		language = "javascript"
	}
	head := t.header.Render("Code - "+language) + "\n"
	if !t.color {
		return head + src + "\n"
	}
	return head + highlight(src, language, "terminal256") + "\n"
}

func (t *Terminal) table(tbl *models.Table) string {
	tb := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(tbl.Headers...).
		Rows(tbl.Rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return t.header.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	return tb.String() + "\n"
}

// highlight formats src with the named chroma formatter, returning src
// unchanged when tokenising or formatting fails.
func highlight(src, language, formatterName string) string {
	formatter := formatters.Get(formatterName)
	if formatter == nil {
		formatter = formatters.Fallback
	}
	iterator, err := lexerFor(src, language).Tokenise(nil, src)
	if err != nil {
		return src
	}
	var buf strings.Builder
	if err := formatter.Format(&buf, codeStyle(), iterator); err != nil {
		return src
	}
	return buf.String()
}

func lexerFor(src, language string) chroma.Lexer {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(src)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	return chroma.Coalesce(lexer)
}

func codeStyle() *chroma.Style {
	if style := styles.Get("monokai"); style != nil {
		return style
	}
	return styles.Fallback
}
