package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

var attrName = regexp.MustCompile(`^[A-Za-z_:][-A-Za-z0-9_:.]*$`)

// unsupportedSchemes are locator syntaxes used by other tools that this
// engine does not evaluate.
var unsupportedSchemes = []string{"xpath:", "regex:", "js:", "jsonpath:"}

// locator finds an element (CSS selector) and reads either its text or one
// attribute. An empty selector addresses the context element itself.
type locator struct {
	raw      string
	selector string
	attr     string
	match    cascadia.Selector
}

func compileLocator(raw string) (locator, error) {
	l := locator{raw: strings.TrimSpace(raw)}
	if l.raw == "" {
		return l, errors.New("empty locator")
	}
	for _, scheme := range unsupportedSchemes {
		if strings.HasPrefix(strings.ToLower(l.raw), scheme) {
			return l, fmt.Errorf("unsupported locator syntax %q", raw)
		}
	}

	l.selector = l.raw
	if i := strings.LastIndex(l.raw, "@"); i >= 0 {
		// An '@' that is not followed by an attribute name belongs to the
		// selector itself, e.g. a[href="mailto:a@b"].
		if attr := strings.TrimSpace(l.raw[i+1:]); attrName.MatchString(attr) {
			l.attr = attr
			l.selector = strings.TrimSpace(l.raw[:i])
		}
	}
	if l.selector == "" {
		return l, nil
	}

	sel, err := cascadia.Compile(l.selector)
	if err != nil {
		return l, fmt.Errorf("locator %q: %v", raw, err)
	}
	l.match = sel
	return l, nil
}

// find returns the elements matching the locator below ctx, or ctx itself
// for a selector-less locator.
func (l locator) find(ctx *goquery.Selection) *goquery.Selection {
	if l.match == nil {
		return ctx
	}
	return ctx.FindMatcher(l.match)
}

// value reads the first match. ok is false when nothing matched.
func (l locator) value(ctx *goquery.Selection) (string, bool) {
	s := l.find(ctx).First()
	if s.Length() == 0 {
		return "", false
	}
	if l.attr != "" {
		return s.Attr(l.attr)
	}
	return s.Text(), true
}
