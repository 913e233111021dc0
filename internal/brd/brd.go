package brd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ContentKind tags the payload carried by a section.
type ContentKind string

const (
	KindText   ContentKind = "text"
	KindList   ContentKind = "list"
	KindObject ContentKind = "object"
)

// Document is one generated version of a project's BRD.
type Document struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	RunID     string    `json:"run_id"`
	Version   int       `json:"version"`
	Title     string    `json:"title"`
	Sections  []Section `json:"sections"`
	CreatedAt string    `json:"created_at" format:"date-time"`
}

type Section struct {
	Key     string  `json:"key"`
	Heading string  `json:"heading"`
	Content Content `json:"content"`
}

type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Content holds exactly one of Text, Items or Fields depending on Kind.
type Content struct {
	Kind   ContentKind
	Text   string
	Items  []string
	Fields []Field
}

func Text(s string) Content { return Content{Kind: KindText, Text: s} }

func List(items ...string) Content {
	if items == nil {
		items = []string{}
	}
	return Content{Kind: KindList, Items: items}
}

func Object(fields ...Field) Content {
	if fields == nil {
		fields = []Field{}
	}
	return Content{Kind: KindObject, Fields: fields}
}

func (c Content) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case KindText:
		return json.Marshal(struct {
			Kind ContentKind `json:"kind"`
			Text string      `json:"text"`
		}{c.Kind, c.Text})
	case KindList:
		items := c.Items
		if items == nil {
			items = []string{}
		}
		return json.Marshal(struct {
			Kind  ContentKind `json:"kind"`
			Items []string    `json:"items"`
		}{c.Kind, items})
	case KindObject:
		fields := c.Fields
		if fields == nil {
			fields = []Field{}
		}
		return json.Marshal(struct {
			Kind   ContentKind `json:"kind"`
			Fields []Field     `json:"fields"`
		}{c.Kind, fields})
	default:
		return nil, fmt.Errorf("unknown content kind %q", c.Kind)
	}
}

var payloadKey = map[ContentKind]string{
	KindText:   "text",
	KindList:   "items",
	KindObject: "fields",
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("section content: %w", err)
	}
	kindRaw, ok := raw["kind"]
	if !ok {
		return errors.New("section content: kind is required")
	}
	var kind ContentKind
	if err := json.Unmarshal(kindRaw, &kind); err != nil {
		return fmt.Errorf("section content kind: %w", err)
	}
	want, ok := payloadKey[kind]
	if !ok {
		return fmt.Errorf("section content: unknown kind %q", kind)
	}
	for k := range raw {
		if k != "kind" && k != want {
			return fmt.Errorf("section content: field %q not allowed for kind %s", k, kind)
		}
	}
	payload, ok := raw[want]
	if !ok {
		return fmt.Errorf("section content: kind %s requires %q", kind, want)
	}
	out := Content{Kind: kind}
	var err error
	switch kind {
	case KindText:
		err = strictDecode(payload, &out.Text)
	case KindList:
		err = strictDecode(payload, &out.Items)
		if err == nil && out.Items == nil {
			out.Items = []string{}
		}
	case KindObject:
		err = strictDecode(payload, &out.Fields)
		if err == nil && out.Fields == nil {
			out.Fields = []Field{}
		}
	}
	if err != nil {
		return fmt.Errorf("section content %s: %w", kind, err)
	}
	*c = out
	return nil
}

func strictDecode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// Validate checks section keys are present and unique.
func (d Document) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return errors.New("document title required")
	}
	seen := map[string]bool{}
	for i, s := range d.Sections {
		if s.Key == "" {
			return fmt.Errorf("section %d has empty key", i)
		}
		if seen[s.Key] {
			return fmt.Errorf("duplicate section key %s", s.Key)
		}
		seen[s.Key] = true
		if _, ok := payloadKey[s.Content.Kind]; !ok {
			return fmt.Errorf("section %s has unknown kind %q", s.Key, s.Content.Kind)
		}
	}
	return nil
}

// DecodeSections parses a stored sections payload.
func DecodeSections(data []byte) ([]Section, error) {
	var sections []Section
	if err := strictDecode(data, &sections); err != nil {
		return nil, err
	}
	for i, s := range sections {
		if s.Content.Kind == "" {
			return nil, fmt.Errorf("section %d has no content", i)
		}
	}
	return sections, nil
}

// Markdown renders the document as CommonMark.
func Markdown(d Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", d.Title)
	if d.Version > 0 {
		fmt.Fprintf(&b, "_Version %d_\n\n", d.Version)
	}
	for _, s := range d.Sections {
		fmt.Fprintf(&b, "## %s\n\n", s.Heading)
		switch s.Content.Kind {
		case KindText:
			b.WriteString(strings.TrimSpace(s.Content.Text))
			b.WriteString("\n\n")
		case KindList:
			if len(s.Content.Items) == 0 {
				b.WriteString("_None._\n\n")
				continue
			}
			for _, item := range s.Content.Items {
				fmt.Fprintf(&b, "- %s\n", item)
			}
			b.WriteString("\n")
		case KindObject:
			for _, f := range s.Content.Fields {
				fmt.Fprintf(&b, "- **%s:** %s\n", f.Key, f.Value)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
