package extract

import (
	"errors"
	"strings"
)

type fieldRule struct {
	name       string
	loc        locator
	transforms []transformSpec
}

type itemGroup struct {
	loc    locator
	fields []fieldRule
}

type recordGroup struct {
	loc    locator
	fields []fieldRule
	items  []itemGroup
}

// Program is a compiled, immutable configuration. It is safe for concurrent
// use.
type Program struct {
	doc      Document
	nextPage *locator
	page     []fieldRule
	groups   []recordGroup
	check    *locator
}

// Compile turns configuration text into a Program. Any malformed directive
// fails the whole compilation with entity.ErrConfigInvalid; no partial
// program is ever returned.
func Compile(text string) (*Program, error) {
	doc, err := parseDocument(text)
	if err != nil {
		return nil, err
	}
	if len(doc.Directives) == 0 {
		return nil, invalid("no directives")
	}
	if doc.MaxPages < 0 {
		return nil, invalid("max_pages must not be negative")
	}

	p := &Program{doc: *doc}

	if doc.NextPage != "" {
		l, err := compileLocator(doc.NextPage)
		if err != nil {
			return nil, invalid("next_page: %v", err)
		}
		p.nextPage = &l
	}
	if doc.SessionCheck != nil {
		if doc.SessionCheck.URL == "" {
			return nil, invalid("session_check needs a url")
		}
		l, err := compileLocator(doc.SessionCheck.Locator)
		if err != nil {
			return nil, invalid("session_check: %v", err)
		}
		p.check = &l
	}

	var (
		group *recordGroup
		item  *itemGroup
	)
	for i, d := range doc.Directives {
		if err := validateShape(d); err != nil {
			return nil, invalid("directive %d: %v", i+1, err)
		}
		loc, err := compileLocator(d.Locator)
		if err != nil {
			return nil, invalid("directive %d: %v", i+1, err)
		}

		switch {
		case d.Repeat:
			p.groups = append(p.groups, recordGroup{loc: loc})
			group = &p.groups[len(p.groups)-1]
			item = nil
		case d.Item:
			if group == nil {
				return nil, invalid("directive %d: item directive before any repeat directive", i+1)
			}
			group.items = append(group.items, itemGroup{loc: loc})
			item = &group.items[len(group.items)-1]
		default:
			transforms, err := compileTransforms(d.Transform)
			if err != nil {
				return nil, invalid("directive %d: %v", i+1, err)
			}
			rule := fieldRule{name: strings.TrimSpace(d.Field), loc: loc, transforms: transforms}
			switch {
			case item != nil:
				item.fields = append(item.fields, rule)
			case group != nil:
				group.fields = append(group.fields, rule)
			default:
				p.page = append(p.page, rule)
			}
		}
	}
	return p, nil
}

func validateShape(d Directive) error {
	kinds := 0
	if d.Repeat {
		kinds++
	}
	if d.Item {
		kinds++
	}
	if strings.TrimSpace(d.Field) != "" {
		kinds++
	}
	switch {
	case kinds == 0:
		return errors.New("needs one of repeat, item or field")
	case kinds > 1:
		return errors.New("repeat, item and field are mutually exclusive")
	case (d.Repeat || d.Item) && d.Transform != "":
		return errors.New("transform only applies to field directives")
	}
	return nil
}

// Directives returns the normalized directive list the program was compiled
// from, in evaluation order.
func (p *Program) Directives() []Directive {
	var out []Directive
	emit := func(rules []fieldRule) {
		for _, r := range rules {
			out = append(out, Directive{Locator: r.loc.raw, Field: r.name, Transform: pipelineString(r.transforms)})
		}
	}
	emit(p.page)
	for _, g := range p.groups {
		out = append(out, Directive{Locator: g.loc.raw, Repeat: true})
		emit(g.fields)
		for _, it := range g.items {
			out = append(out, Directive{Locator: it.loc.raw, Item: true})
			emit(it.fields)
		}
	}
	return out
}

// URL is the page URL template; {page}, {key} and {query} are substituted by
// the crawler.
func (p *Program) URL() string { return p.doc.URL }

func (p *Program) MaxPages() int { return p.doc.MaxPages }

func (p *Program) PreviewKeys() []string { return append([]string(nil), p.doc.PreviewKeys...) }

func (p *Program) Version() int { return p.doc.Version }

// SessionCheckURL is empty when the configuration has no session_check.
func (p *Program) SessionCheckURL() string {
	if p.doc.SessionCheck == nil {
		return ""
	}
	return p.doc.SessionCheck.URL
}
