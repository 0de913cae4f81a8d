// Package content decides how an answer is presented and builds the payload
// the view layer renders.
package content

import (
	"strings"

	"github.com/RichardoC/talknow/internal/models"
)

var (
	codeKeywords   = []string{"code", "function", "javascript", "react"}
	tableKeywords  = []string{"table", "data", "csv"}
	slidesKeywords = []string{"slides", "presentation", "pitch"}
)

// Classify picks the presentation mode for a user message.
//
// Rules, first match wins:
//  1. Code: "code", "function", "javascript", "react"
//  2. Table: "table", "data", "csv"
//  3. Slides: "slides", "presentation", "pitch"
//  4. Markdown: everything else
//
// Matching is plain substring containment on the lowercased text, so
// "don't write code" is still code and "database" is still a table.
func Classify(message string) models.ContentType {
	msg := strings.ToLower(message)

	switch {
	case containsAny(msg, codeKeywords):
		return models.ContentCode
	case containsAny(msg, tableKeywords):
		return models.ContentTable
	case containsAny(msg, slidesKeywords):
		return models.ContentSlides
	default:
		return models.ContentMarkdown
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
