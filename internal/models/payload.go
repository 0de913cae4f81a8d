package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ContentType is the presentation mode of an assistant answer.
type ContentType string

const (
	ContentCode     ContentType = "code"
	ContentTable    ContentType = "table"
	ContentSlides   ContentType = "slides"
	ContentMarkdown ContentType = "markdown"
)

// ParseContentType maps a label back to its ContentType.
func ParseContentType(s string) (ContentType, error) {
	switch t := ContentType(s); t {
	case ContentCode, ContentTable, ContentSlides, ContentMarkdown:
		return t, nil
	default:
		return "", fmt.Errorf("unknown content type %q", s)
	}
}

// Payload is the content attached to a message. The set of implementations
// is closed: Text, Code, *Table and Slides.
type Payload interface {
	ContentType() ContentType
	payload()
}

// Text is plain markdown.
type Text string

func (Text) ContentType() ContentType { return ContentMarkdown }
func (Text) payload()                 {}

// Code is a source listing shown in a code block.
type Code string

func (Code) ContentType() ContentType { return ContentCode }
func (Code) payload()                 {}

type Table struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

func (*Table) ContentType() ContentType { return ContentTable }
func (*Table) payload()                 {}

type Slide struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type Slides []Slide

func (Slides) ContentType() ContentType { return ContentSlides }
func (Slides) payload()                 {}

// DecodePayload decodes the JSON form of a payload of type t.
func DecodePayload(t ContentType, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`""`)
	}
	switch t {
	case ContentMarkdown:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode markdown payload: %w", err)
		}
		return Text(s), nil
	case ContentCode:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode code payload: %w", err)
		}
		return Code(s), nil
	case ContentTable:
		var tbl Table
		if err := json.Unmarshal(raw, &tbl); err != nil {
			return nil, fmt.Errorf("decode table payload: %w", err)
		}
		return &tbl, nil
	case ContentSlides:
		var slides Slides
		if err := json.Unmarshal(raw, &slides); err != nil {
			return nil, fmt.Errorf("decode slides payload: %w", err)
		}
		return slides, nil
	default:
		return nil, fmt.Errorf("unknown content type %q", t)
	}
}

// PlainText flattens a payload into text, for sending earlier turns back to
// the model.
func PlainText(p Payload) string {
	switch v := p.(type) {
	case nil:
		return ""
	case Text:
		return string(v)
	case Code:
		return string(v)
	case *Table:
		var sb strings.Builder
		sb.WriteString(strings.Join(v.Headers, " | "))
		for _, row := range v.Rows {
			sb.WriteByte('\n')
			sb.WriteString(strings.Join(row, " | "))
		}
		return sb.String()
	case Slides:
		parts := make([]string, 0, len(v))
		for _, s := range v {
			parts = append(parts, s.Title+"\n"+s.Content)
		}
		return strings.Join(parts, "\n\n")
	default:
		return ""
	}
}
