package content

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/RichardoC/talknow/internal/models"
)

var gfm = goldmark.New(goldmark.WithExtensions(extension.GFM))

// StructuredShaper reads the answer as GitHub-flavoured markdown and pulls
// the requested structure out of it: the first fenced code block, the first
// table, or one slide per level 1 or 2 heading. Answers without that
// structure are shaped by TemplateShaper.
type StructuredShaper struct{}

func (StructuredShaper) Shape(t models.ContentType, answer string) models.Payload {
	src := []byte(answer)
	doc := gfm.Parser().Parse(text.NewReader(src))

	switch t {
	case models.ContentCode:
		if code, ok := firstCodeBlock(doc, src); ok {
			return models.Code(code)
		}
	case models.ContentTable:
		if tbl, ok := firstTable(doc, src); ok {
			return tbl
		}
	case models.ContentSlides:
		if slides, ok := headingSlides(doc, src); ok {
			return slides
		}
	}
	return TemplateShaper{}.Shape(t, answer)
}

// CodeLanguage returns the info string of the first fenced code block in
// answer, or "" when there is none.
func CodeLanguage(answer string) string {
	src := []byte(answer)
	doc := gfm.Parser().Parse(text.NewReader(src))

	var lang string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if fc, ok := n.(*ast.FencedCodeBlock); ok && entering {
			lang = string(fc.Language(src))
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return lang
}

func firstCodeBlock(doc ast.Node, src []byte) (string, bool) {
	var (
		buf   bytes.Buffer
		found bool
	)
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		fc, ok := n.(*ast.FencedCodeBlock)
		if !ok || !entering {
			return ast.WalkContinue, nil
		}
		lines := fc.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			buf.Write(seg.Value(src))
		}
		found = true
		return ast.WalkStop, nil
	})
	return strings.TrimRight(buf.String(), "\n"), found
}

func firstTable(doc ast.Node, src []byte) (*models.Table, bool) {
	var tbl *models.Table
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		t, ok := n.(*east.Table)
		if !ok || !entering {
			return ast.WalkContinue, nil
		}
		tbl = &models.Table{}
		for row := t.FirstChild(); row != nil; row = row.NextSibling() {
			var cells []string
			for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
				cells = append(cells, strings.TrimSpace(nodeText(cell, src)))
			}
			switch row.(type) {
			case *east.TableHeader:
				tbl.Headers = cells
			case *east.TableRow:
				tbl.Rows = append(tbl.Rows, cells)
			}
		}
		return ast.WalkStop, nil
	})
	if tbl == nil || len(tbl.Headers) == 0 {
		return nil, false
	}
	return tbl, true
}

func headingSlides(doc ast.Node, src []byte) (models.Slides, bool) {
	type mark struct {
		title     string
		lineStart int
		bodyStart int
	}
	var marks []mark
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Level > 2 || h.Lines().Len() == 0 {
			continue
		}
		first := lineStart(src, h.Lines().At(0).Start)
		body := lineEnd(src, lineStart(src, h.Lines().At(h.Lines().Len()-1).Start))
		if !isATXHeading(src[first:lineEnd(src, first)]) {
			// setext: the underline follows the text lines
			body = lineEnd(src, body)
		}
		marks = append(marks, mark{
			title:     strings.TrimSpace(nodeText(h, src)),
			lineStart: first,
			bodyStart: body,
		})
	}
	if len(marks) == 0 {
		return nil, false
	}

	slides := make(models.Slides, 0, len(marks))
	for i, m := range marks {
		end := len(src)
		if i+1 < len(marks) {
			end = marks[i+1].lineStart
		}
		body := ""
		if m.bodyStart < end {
			body = strings.TrimSpace(string(src[m.bodyStart:end]))
		}
		slides = append(slides, models.Slide{Title: m.title, Content: body})
	}
	return slides, true
}

// nodeText concatenates the literal text below n.
func nodeText(n ast.Node, src []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := c.(type) {
		case *ast.Text:
			sb.Write(v.Segment.Value(src))
			if v.SoftLineBreak() || v.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(v.Value)
		}
		return ast.WalkContinue, nil
	})
	return sb.String()
}

// isATXHeading reports whether line opens with up to three spaces, one to
// six '#' and then a space, a tab or the end of the line.
func isATXHeading(line []byte) bool {
	i := 0
	for i < 3 && i < len(line) && line[i] == ' ' {
		i++
	}
	n := 0
	for i+n < len(line) && line[i+n] == '#' {
		n++
	}
	if n == 0 || n > 6 {
		return false
	}
	rest := line[i+n:]
	return len(rest) == 0 || rest[0] == ' ' || rest[0] == '\t' || rest[0] == '\n' || rest[0] == '\r'
}

func lineStart(src []byte, pos int) int {
	if pos > len(src) {
		pos = len(src)
	}
	return bytes.LastIndexByte(src[:pos], '\n') + 1
}

func lineEnd(src []byte, pos int) int {
	if pos >= len(src) {
		return len(src)
	}
	i := bytes.IndexByte(src[pos:], '\n')
	if i < 0 {
		return len(src)
	}
	return pos + i + 1
}
