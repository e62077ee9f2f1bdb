// Package htmldoc wraps a parsed HTML page with the lookups the provider
// clients need: by element id, by tag, by attribute and by XPath.
package htmldoc

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"gopkg.in/xmlpath.v2"
)

// Document is a parsed page. It keeps the raw markup so marker phrases can
// be checked and XPath queries can run against the same bytes.
type Document struct {
	raw  []byte
	root *html.Node

	xpathOnce sync.Once
	xroot     *xmlpath.Node
	xerr      error
}

// Parse reads and parses a page. Malformed markup is repaired by the HTML5
// parser rather than rejected; only read errors are returned.
func Parse(r io.Reader) (*Document, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return ParseBytes(raw)
}

// ParseBytes parses raw markup.
func ParseBytes(raw []byte) (*Document, error) {
	root, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return &Document{raw: raw, root: root}, nil
}

// Root returns the document node.
func (d *Document) Root() *html.Node {
	return d.root
}

// Contains reports whether the raw markup contains marker.
func (d *Document) Contains(marker string) bool {
	return bytes.Contains(d.raw, []byte(marker))
}

// ByID returns the first element whose id attribute equals id.
func (d *Document) ByID(id string) *html.Node {
	return findFirst(d.root, func(n *html.Node) bool {
		v, ok := Attr(n, "id")
		return ok && v == id
	})
}

// FindAll returns every descendant element of n named tag, in document order.
func FindAll(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	walk(n, func(c *html.Node) {
		if c != n && c.Type == html.ElementNode && c.Data == tag {
			out = append(out, c)
		}
	})
	return out
}

// Find returns the first descendant element of n named tag.
func Find(n *html.Node, tag string) *html.Node {
	return findFirst(n, func(c *html.Node) bool {
		return c != n && c.Type == html.ElementNode && c.Data == tag
	})
}

// FindByAttr returns every element below n carrying attribute key whose
// value satisfies match.
func FindByAttr(n *html.Node, key string, match func(string) bool) []*html.Node {
	var out []*html.Node
	walk(n, func(c *html.Node) {
		if v, ok := Attr(c, key); ok && match(v) {
			out = append(out, c)
		}
	})
	return out
}

// Attr returns the value of attribute key on an element.
func Attr(n *html.Node, key string) (string, bool) {
	if n == nil || n.Type != html.ElementNode {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// Text returns the concatenated text content of n with surrounding
// whitespace trimmed.
func Text(n *html.Node) string {
	return strings.TrimSpace(RawText(n))
}

// RawText returns the concatenated text content of n as is.
func RawText(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	})
	return b.String()
}

// XPath evaluates expr and returns the string value of every match.
func (d *Document) XPath(expr string) ([]string, error) {
	path, err := xmlpath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to compile XPath %q: %w", expr, err)
	}
	root, err := d.xpathRoot()
	if err != nil {
		return nil, err
	}
	var values []string
	iter := path.Iter(root)
	for iter.Next() {
		values = append(values, iter.Node().String())
	}
	return values, nil
}

// XPathFirst returns the first match of expr.
func (d *Document) XPathFirst(expr string) (string, bool, error) {
	values, err := d.XPath(expr)
	if err != nil || len(values) == 0 {
		return "", false, err
	}
	return values[0], true, nil
}

func (d *Document) xpathRoot() (*xmlpath.Node, error) {
	d.xpathOnce.Do(func() {
		d.xroot, d.xerr = xmlpath.ParseHTML(bytes.NewReader(d.raw))
		if d.xerr != nil {
			d.xerr = fmt.Errorf("failed to build XPath tree: %w", d.xerr)
		}
	})
	return d.xroot, d.xerr
}

func walk(n *html.Node, fn func(*html.Node)) {
	if n == nil {
		return
	}
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func findFirst(n *html.Node, pred func(*html.Node) bool) *html.Node {
	if n == nil {
		return nil
	}
	if pred(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, pred); found != nil {
			return found
		}
	}
	return nil
}
