package agentcontent

import (
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
	"github.com/zeebo/blake3"
)

// UntitledTitle is used when a body has no top-level heading.
const UntitledTitle = "Untitled"

const maxTitleLen = 500

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// DeriveTitle returns the text of the first level-one heading in body.
// Headings inside code blocks or quotes do not count.
func DeriveTitle(body string) string {
	src := []byte(body)
	doc := markdown.Parser().Parse(text.NewReader(src))
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Level != 1 {
			continue
		}
		var sb strings.Builder
		lines := h.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			sb.Write(seg.Value(src))
		}
		if title := strings.TrimSpace(sb.String()); title != "" {
			return clampTitle(title)
		}
	}
	return UntitledTitle
}

func clampTitle(title string) string {
	if utf8.RuneCountInString(title) <= maxTitleLen {
		return title
	}
	return string([]rune(title)[:maxTitleLen])
}

// ContentHash is the dedup digest of a body.
func ContentHash(body string) string {
	sum := blake3.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}
