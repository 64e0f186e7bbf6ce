package subject

import (
	"strings"
)

// RichText is a rich-text document in the nested doc/paragraph/text shape
// issue trackers use for comment bodies.
type RichText struct {
	Type    string         `json:"type"`
	Version int            `json:"version"`
	Content []RichTextNode `json:"content"`
}

// RichTextNode is one block or inline node of a RichText document.
type RichTextNode struct {
	Type    string         `json:"type"`
	Text    string         `json:"text,omitempty"`
	Content []RichTextNode `json:"content,omitempty"`
}

// PlainText wraps plain text in a document, one paragraph per blank-line
// separated block. Empty text yields a document with no paragraphs.
func PlainText(text string) RichText {
	doc := RichText{Type: "doc", Version: 1, Content: []RichTextNode{}}
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	for _, block := range strings.Split(normalized, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		doc.Content = append(doc.Content, RichTextNode{
			Type:    "paragraph",
			Content: []RichTextNode{{Type: "text", Text: block}},
		})
	}
	return doc
}

// String flattens the document back to plain text.
func (r RichText) String() string {
	paragraphs := make([]string, 0, len(r.Content))
	for _, block := range r.Content {
		paragraphs = append(paragraphs, flatten(block))
	}
	return strings.Join(paragraphs, "\n\n")
}

func flatten(n RichTextNode) string {
	if n.Type == "text" {
		return n.Text
	}
	var b strings.Builder
	for _, child := range n.Content {
		b.WriteString(flatten(child))
	}
	return b.String()
}
