// Package render implements the browser-render collaborator: a chromedp
// backed Renderer and a DOM snapshot Page the extraction engine queries.
package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/quarrylabs/quarry/internal/crawl"
)

// SnapshotPage is a crawl.Page over a parsed DOM snapshot. Queries are pure
// functions of the snapshot, so extraction stays deterministic.
type SnapshotPage struct {
	root *html.Node
	doc  *goquery.Document
}

// NewSnapshotPage parses rendered markup into a queryable page.
func NewSnapshotPage(markup string) (*SnapshotPage, error) {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &SnapshotPage{
		root: root,
		doc:  goquery.NewDocumentFromNode(root),
	}, nil
}

// QueryAll returns every element matching the selector in document order.
func (p *SnapshotPage) QueryAll(selector string, selectorType crawl.SelectorType) ([]crawl.Element, error) {
	nodes, err := p.queryNodes(selector, selectorType)
	if err != nil {
		return nil, err
	}
	elements := make([]crawl.Element, 0, len(nodes))
	for _, n := range nodes {
		elements = append(elements, &snapshotElement{node: n})
	}
	return elements, nil
}

// QueryFirst returns the first matching element, or nil when none match.
func (p *SnapshotPage) QueryFirst(selector string, selectorType crawl.SelectorType) (crawl.Element, error) {
	nodes, err := p.queryNodes(selector, selectorType)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return &snapshotElement{node: nodes[0]}, nil
}

func (p *SnapshotPage) queryNodes(selector string, selectorType crawl.SelectorType) ([]*html.Node, error) {
	switch selectorType {
	case crawl.SelectorXPath:
		nodes, err := htmlquery.QueryAll(p.root, selector)
		if err != nil {
			return nil, fmt.Errorf("xpath query %q: %w", selector, err)
		}
		return nodes, nil
	case crawl.SelectorCSS, "":
		matcher, err := cascadia.Compile(selector)
		if err != nil {
			return nil, fmt.Errorf("css query %q: %w", selector, err)
		}
		return p.doc.FindMatcher(matcher).Nodes, nil
	default:
		return nil, fmt.Errorf("unknown selector type %q", selectorType)
	}
}

type snapshotElement struct {
	node *html.Node
}

func (e *snapshotElement) Tag() string {
	if e.node.Type != html.ElementNode {
		return ""
	}
	return strings.ToLower(e.node.Data)
}

func (e *snapshotElement) Text() string {
	return strings.TrimSpace(htmlquery.InnerText(e.node))
}

func (e *snapshotElement) HTML() (string, error) {
	var buf bytes.Buffer
	for child := e.node.FirstChild; child != nil; child = child.NextSibling {
		if err := html.Render(&buf, child); err != nil {
			return "", fmt.Errorf("render inner html: %w", err)
		}
	}
	return strings.TrimSpace(buf.String()), nil
}

func (e *snapshotElement) Attr(name string) (string, bool) {
	for _, attr := range e.node.Attr {
		if strings.EqualFold(attr.Key, name) {
			return attr.Val, true
		}
	}
	return "", false
}
