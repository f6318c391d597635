// Package readme renders a crate's README to HTML for the documentation
// landing page. Rendered output is sanitized: READMEs are untrusted input
// and must not inject script into doc pages.
package readme

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"golang.org/x/net/html"
)

// Render converts README markdown to sanitized HTML.
func Render(source []byte) (string, error) {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
	)

	var buf bytes.Buffer
	if err := md.Convert(source, &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}

	return Sanitize(buf.String())
}

// droppedElements are removed entirely, including their children.
var droppedElements = map[string]bool{
	"script": true,
	"style":  true,
	"iframe": true,
	"object": true,
	"embed":  true,
	"form":   true,
}

// Sanitize parses HTML and drops active content: script-like elements,
// on* event-handler attributes, and javascript: URLs.
func Sanitize(input string) (string, error) {
	doc, err := html.Parse(strings.NewReader(input))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	clean(doc)

	body := findBody(doc)
	var buf bytes.Buffer
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", fmt.Errorf("render html: %w", err)
		}
	}
	return buf.String(), nil
}

func clean(n *html.Node) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if c.Type == html.ElementNode && droppedElements[c.Data] {
			n.RemoveChild(c)
			continue
		}
		clean(c)
	}

	if n.Type != html.ElementNode {
		return
	}

	kept := n.Attr[:0]
	for _, attr := range n.Attr {
		if strings.HasPrefix(strings.ToLower(attr.Key), "on") {
			continue
		}
		if (attr.Key == "href" || attr.Key == "src") && isScriptURL(attr.Val) {
			continue
		}
		kept = append(kept, attr)
	}
	n.Attr = kept
}

func isScriptURL(val string) bool {
	v := strings.ToLower(strings.TrimSpace(val))
	return strings.HasPrefix(v, "javascript:") || strings.HasPrefix(v, "vbscript:") || strings.HasPrefix(v, "data:text/html")
}

// findBody returns the body node html.Parse always synthesizes.
func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if body := findBody(c); body != nil {
			return body
		}
	}
	return nil
}
