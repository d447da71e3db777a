// Package extract implements the extraction engine: a small interpreter for
// CSS/XPath rules evaluated against a rendered page.
package extract

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/quarrylabs/quarry/internal/crawl"
)

const contentPreviewLimit = 500

// Engine turns a rendered page plus zero or more rules into a ScrapedData
// record. It is a pure function of (page, rules); a failing rule degrades to
// its neutral value and never aborts the others.
type Engine struct {
	logger *zap.Logger
}

// NewEngine constructs an Engine.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// Extract applies the rule set in input order, or runs the fallback
// extraction when no rules are supplied.
func (e *Engine) Extract(page crawl.Page, rules []crawl.ExtractionRule) crawl.ScrapedData {
	if len(rules) == 0 {
		return e.extractFallback(page)
	}
	var data crawl.ScrapedData
	for _, rule := range rules {
		value, err := e.applyRule(page, rule)
		if err != nil {
			e.logger.Warn("extraction rule failed",
				zap.String("rule", rule.Name),
				zap.String("selector", rule.Selector),
				zap.Error(err),
			)
			value = neutralValue(rule)
		}
		data.Append(rule.Name, value)
	}
	return data
}

func (e *Engine) applyRule(page crawl.Page, rule crawl.ExtractionRule) (crawl.Value, error) {
	if rule.Multiple {
		elements, err := page.QueryAll(rule.Selector, rule.SelectorType)
		if err != nil {
			return crawl.Value{}, fmt.Errorf("query all: %w", err)
		}
		values := []string{}
		for _, el := range elements {
			// Null extractions are filtered out; only resolvable values
			// appear, preserving document order.
			if v, ok := extractValue(el, rule); ok {
				values = append(values, v)
			}
		}
		return crawl.ListValue(values), nil
	}

	element, err := page.QueryFirst(rule.Selector, rule.SelectorType)
	if err != nil {
		return crawl.Value{}, fmt.Errorf("query first: %w", err)
	}
	if element == nil {
		return crawl.NullValue(), nil
	}
	v, ok := extractValue(element, rule)
	if !ok {
		return crawl.NullValue(), nil
	}
	return crawl.ScalarValue(v), nil
}

// extractValue pulls one value from an element per the rule type. The false
// return means "no value" (empty text/markup, missing attribute).
func extractValue(el crawl.Element, rule crawl.ExtractionRule) (string, bool) {
	switch rule.Type {
	case crawl.ExtractText:
		text := el.Text()
		return text, text != ""
	case crawl.ExtractHTML:
		markup, err := el.HTML()
		if err != nil || markup == "" {
			return "", false
		}
		return markup, true
	case crawl.ExtractAttribute:
		if rule.Attribute == "" {
			return "", false
		}
		return el.Attr(rule.Attribute)
	default:
		return "", false
	}
}

func neutralValue(rule crawl.ExtractionRule) crawl.Value {
	if rule.Multiple {
		return crawl.ListValue([]string{})
	}
	return crawl.NullValue()
}

// extractFallback produces the fixed default shape: title, meta description,
// headings, links with non-empty href, and a 500-character content preview.
// Each field degrades independently to its neutral value.
func (e *Engine) extractFallback(page crawl.Page) crawl.ScrapedData {
	var data crawl.ScrapedData
	data.Append("title", e.fallbackTitle(page))
	data.Append("description", e.fallbackDescription(page))
	data.Append("headings", e.fallbackHeadings(page))
	data.Append("links", e.fallbackLinks(page))
	data.Append("content", e.fallbackContent(page))
	return data
}

func (e *Engine) fallbackTitle(page crawl.Page) crawl.Value {
	el, err := page.QueryFirst("title", crawl.SelectorCSS)
	if err != nil || el == nil {
		return crawl.ScalarValue("")
	}
	return crawl.ScalarValue(el.Text())
}

func (e *Engine) fallbackDescription(page crawl.Page) crawl.Value {
	el, err := page.QueryFirst(`meta[name="description"]`, crawl.SelectorCSS)
	if err != nil || el == nil {
		return crawl.NullValue()
	}
	content, ok := el.Attr("content")
	if !ok || content == "" {
		return crawl.NullValue()
	}
	return crawl.ScalarValue(content)
}

func (e *Engine) fallbackHeadings(page crawl.Page) crawl.Value {
	elements, err := page.QueryAll("h1, h2, h3, h4, h5, h6", crawl.SelectorCSS)
	if err != nil {
		return crawl.ListValue([]string{})
	}
	headings := []string{}
	for _, el := range elements {
		headings = append(headings, fmt.Sprintf("%s: %s", el.Tag(), el.Text()))
	}
	return crawl.ListValue(headings)
}

func (e *Engine) fallbackLinks(page crawl.Page) crawl.Value {
	elements, err := page.QueryAll("a", crawl.SelectorCSS)
	if err != nil {
		return crawl.ListValue([]string{})
	}
	links := []string{}
	for _, el := range elements {
		href, ok := el.Attr("href")
		if !ok || href == "" {
			continue
		}
		if text := el.Text(); text != "" {
			links = append(links, fmt.Sprintf("%s (%s)", text, href))
		} else {
			links = append(links, href)
		}
	}
	return crawl.ListValue(links)
}

func (e *Engine) fallbackContent(page crawl.Page) crawl.Value {
	el, err := page.QueryFirst("body", crawl.SelectorCSS)
	if err != nil || el == nil {
		return crawl.ScalarValue("")
	}
	text := el.Text()
	if runes := []rune(text); len(runes) > contentPreviewLimit {
		text = string(runes[:contentPreviewLimit])
	}
	return crawl.ScalarValue(text)
}
