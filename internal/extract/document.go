// Package extract interprets stored extraction configurations against
// fetched pages. Compilation validates a whole document up front; applying a
// compiled program is a pure function of the page.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/ecscrape/scraper-service/internal/entity"
)

// Directive is one extraction instruction as written in a configuration.
type Directive struct {
	Locator   string `yaml:"locator" json:"locator"`
	Repeat    bool   `yaml:"repeat,omitempty" json:"repeat,omitempty"`
	Item      bool   `yaml:"item,omitempty" json:"item,omitempty"`
	Field     string `yaml:"field,omitempty" json:"field,omitempty"`
	Transform string `yaml:"transform,omitempty" json:"transform,omitempty"`
}

// SessionCheck tells the generic auth provider how to verify a restored
// session: the page at URL must contain an element matching Locator.
type SessionCheck struct {
	URL     string `yaml:"url"`
	Locator string `yaml:"locator"`
}

// Document is the full configuration text. A bare directive list is also
// accepted and yields a Document with only Directives set.
type Document struct {
	Version      int           `yaml:"version"`
	URL          string        `yaml:"url"`
	NextPage     string        `yaml:"next_page"`
	MaxPages     int           `yaml:"max_pages"`
	PreviewKeys  []string      `yaml:"preview_keys"`
	SessionCheck *SessionCheck `yaml:"session_check"`
	Directives   []Directive   `yaml:"directives"`
}

func parseDocument(text string) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(text), &root); err != nil {
		return nil, invalid("parse: %v", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, invalid("empty configuration")
	}

	var doc Document
	var err error
	switch root.Content[0].Kind {
	case yaml.SequenceNode:
		err = decodeStrict(text, &doc.Directives)
	case yaml.MappingNode:
		err = decodeStrict(text, &doc)
	default:
		return nil, invalid("configuration must be a directive list or a mapping")
	}
	if err != nil {
		return nil, invalid("decode: %v", err)
	}
	if doc.Version == 0 {
		doc.Version = 1
	}
	return &doc, nil
}

// decodeStrict rejects unknown keys so that a misspelt directive attribute
// fails compilation instead of being ignored.
func decodeStrict(text string, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader([]byte(text)))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", entity.ErrConfigInvalid, fmt.Sprintf(format, args...))
}
