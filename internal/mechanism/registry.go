// Package mechanism holds the NIH funding mechanism templates: which sections an
// application must contain, their page limits and required headings, and which
// supporting attachments have to be uploaded before export.
package mechanism

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed mechanisms.yml
var defaultYAML []byte

// SectionConfig is the template for one required section.
type SectionConfig struct {
	Type             string   `yaml:"type" json:"type"`
	Title            string   `yaml:"title" json:"title"`
	PageLimit        int      `yaml:"page_limit" json:"pageLimit"`
	RequiredHeadings []string `yaml:"required_headings,omitempty" json:"requiredHeadings,omitempty"`
	Description      string   `yaml:"description,omitempty" json:"description,omitempty"`
}

// AttachmentConfig is the template for a supporting file slot.
type AttachmentConfig struct {
	Name        string `yaml:"name" json:"name"`
	Required    bool   `yaml:"required" json:"required"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Mechanism is a funding vehicle such as R43.
type Mechanism struct {
	ID          string             `yaml:"id" json:"id"`
	Name        string             `yaml:"name" json:"name"`
	Description string             `yaml:"description,omitempty" json:"description,omitempty"`
	Sections    []SectionConfig    `yaml:"sections" json:"sections"`
	Attachments []AttachmentConfig `yaml:"attachments" json:"attachments"`
}

// RequiredAttachments returns the attachment templates flagged as required.
func (m Mechanism) RequiredAttachments() []AttachmentConfig {
	var out []AttachmentConfig
	for _, a := range m.Attachments {
		if a.Required {
			out = append(out, a)
		}
	}
	return out
}

// Registry is an immutable lookup of mechanisms keyed by code.
type Registry struct {
	byCode map[string]Mechanism
	codes  []string
}

type registryFile struct {
	Mechanisms []Mechanism `yaml:"mechanisms"`
}

// Default returns the registry shipped with the binary.
func Default() *Registry {
	r, err := FromYAML(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded mechanisms.yml: %v", err))
	}
	return r
}

// LoadFile reads a registry override from disk.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates a registry document.
func FromYAML(data []byte) (*Registry, error) {
	var f registryFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("invalid mechanisms yaml: %w", err)
	}
	return New(f.Mechanisms...)
}

// New builds a registry from mechanism definitions.
func New(mechs ...Mechanism) (*Registry, error) {
	r := &Registry{byCode: make(map[string]Mechanism, len(mechs))}
	for _, m := range mechs {
		if err := validate(m); err != nil {
			return nil, err
		}
		code := normalize(m.ID)
		if _, dup := r.byCode[code]; dup {
			return nil, fmt.Errorf("mechanism %s defined twice", m.ID)
		}
		m.ID = code
		r.byCode[code] = clone(m)
		r.codes = append(r.codes, code)
	}
	if len(r.codes) == 0 {
		return nil, fmt.Errorf("registry has no mechanisms")
	}
	sort.Strings(r.codes)
	return r, nil
}

func validate(m Mechanism) error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("mechanism id is required")
	}
	if len(m.Sections) == 0 {
		return fmt.Errorf("mechanism %s has no sections", m.ID)
	}
	seen := map[string]bool{}
	for _, s := range m.Sections {
		if s.Type == "" || s.Title == "" {
			return fmt.Errorf("mechanism %s has a section without type or title", m.ID)
		}
		if s.PageLimit <= 0 {
			return fmt.Errorf("mechanism %s section %s: page limit must be > 0", m.ID, s.Type)
		}
		if seen[s.Type] {
			return fmt.Errorf("mechanism %s repeats section type %s", m.ID, s.Type)
		}
		seen[s.Type] = true
		for _, h := range s.RequiredHeadings {
			if strings.TrimSpace(h) == "" {
				return fmt.Errorf("mechanism %s section %s has an empty required heading", m.ID, s.Type)
			}
		}
	}
	names := map[string]bool{}
	for _, a := range m.Attachments {
		if strings.TrimSpace(a.Name) == "" {
			return fmt.Errorf("mechanism %s has an attachment without name", m.ID)
		}
		if names[a.Name] {
			return fmt.Errorf("mechanism %s repeats attachment %s", m.ID, a.Name)
		}
		names[a.Name] = true
	}
	return nil
}

// Lookup returns the mechanism for code. Codes compare case-insensitively.
func (r *Registry) Lookup(code string) (Mechanism, bool) {
	m, ok := r.byCode[normalize(code)]
	if !ok {
		return Mechanism{}, false
	}
	return clone(m), true
}

// Codes returns the known codes in ascending order.
func (r *Registry) Codes() []string {
	return append([]string(nil), r.codes...)
}

// All returns every mechanism ordered by code.
func (r *Registry) All() []Mechanism {
	out := make([]Mechanism, 0, len(r.codes))
	for _, c := range r.codes {
		out = append(out, clone(r.byCode[c]))
	}
	return out
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func clone(m Mechanism) Mechanism {
	sections := make([]SectionConfig, len(m.Sections))
	for i, s := range m.Sections {
		s.RequiredHeadings = append([]string(nil), s.RequiredHeadings...)
		sections[i] = s
	}
	m.Sections = sections
	m.Attachments = append([]AttachmentConfig(nil), m.Attachments...)
	return m
}
