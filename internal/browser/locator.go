package browser

import (
	"fmt"
	"strings"
)

// Strategy names how a Locator value is interpreted.
type Strategy string

// Supported locator strategies.
const (
	ByCSS             Strategy = "css"
	ByID              Strategy = "id"
	ByName            Strategy = "name"
	ByXPath           Strategy = "xpath"
	ByLinkText        Strategy = "link_text"
	ByPartialLinkText Strategy = "partial_link_text"
	ByClassName       Strategy = "class_name"
	ByTagName         Strategy = "tag_name"
)

// Strategies lists every supported strategy.
var Strategies = []Strategy{ByCSS, ByID, ByName, ByXPath, ByLinkText, ByPartialLinkText, ByClassName, ByTagName}

// Locator identifies one element on the page.
type Locator struct {
	Strategy Strategy `json:"strategy" enum:"css,id,name,xpath,link_text,partial_link_text,class_name,tag_name" doc:"How value is interpreted"`
	Value    string   `json:"value" minLength:"1" doc:"Selector, id, name, xpath or link text"`
}

func (l Locator) String() string {
	return string(l.Strategy) + "=" + l.Value
}

// Query is a locator resolved to a CSS selector or an XPath expression.
type Query struct {
	Selector string
	XPath    bool
}

// Resolve translates the locator into a query the DOM can run.
func (l Locator) Resolve() (Query, error) {
	if strings.TrimSpace(l.Value) == "" {
		return Query{}, fmt.Errorf("empty locator value")
	}
	switch Strategy(strings.ToLower(string(l.Strategy))) {
	case ByCSS, "css_selector":
		return Query{Selector: l.Value}, nil
	case ByID:
		return Query{Selector: `[id="` + cssEscape(l.Value) + `"]`}, nil
	case ByName:
		return Query{Selector: `[name="` + cssEscape(l.Value) + `"]`}, nil
	case ByClassName:
		return Query{Selector: `[class~="` + cssEscape(l.Value) + `"]`}, nil
	case ByTagName:
		return Query{Selector: l.Value}, nil
	case ByXPath:
		return Query{Selector: l.Value, XPath: true}, nil
	case ByLinkText:
		return Query{Selector: "//a[normalize-space(.)=" + xpathLiteral(strings.TrimSpace(l.Value)) + "]", XPath: true}, nil
	case ByPartialLinkText:
		return Query{Selector: "//a[contains(., " + xpathLiteral(l.Value) + ")]", XPath: true}, nil
	default:
		return Query{}, fmt.Errorf("unsupported locator strategy %q", l.Strategy)
	}
}

func cssEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, `'`) {
		return `'` + s + `'`
	}
	parts := strings.Split(s, `"`)
	var b strings.Builder
	b.WriteString("concat(")
	for i, p := range parts {
		if i > 0 {
			b.WriteString(`, '"', `)
		}
		b.WriteString(`"` + p + `"`)
	}
	b.WriteString(")")
	return b.String()
}
