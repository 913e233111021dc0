package brd

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDecodeSectionsAcceptsEachKind(t *testing.T) {
	raw := `[
{"key":"summary","heading":"Summary","content":{"kind":"text","text":"hello"}},
{"key":"reqs","heading":"Requirements","content":{"kind":"list","items":["a","b"]}},
{"key":"meta","heading":"Meta","content":{"kind":"object","fields":[{"key":"owner","value":"ops"}]}}
]`
	sections, err := DecodeSections([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sections) != 3 {
		t.Fatalf("expected 3 sections, got %d", len(sections))
	}
	if sections[0].Content.Text != "hello" || sections[1].Content.Items[1] != "b" || sections[2].Content.Fields[0].Value != "ops" {
		t.Fatalf("unexpected decode %+v", sections)
	}
}

func TestDecodeSectionsRejectsBadPayloads(t *testing.T) {
	cases := map[string]string{
		"unknown kind":    `[{"key":"a","heading":"A","content":{"kind":"table","rows":[]}}]`,
		"missing kind":    `[{"key":"a","heading":"A","content":{"text":"x"}}]`,
		"mismatched":      `[{"key":"a","heading":"A","content":{"kind":"text","items":["x"]}}]`,
		"extra field":     `[{"key":"a","heading":"A","content":{"kind":"list","items":[],"text":"x"}}]`,
		"wrong type":      `[{"key":"a","heading":"A","content":{"kind":"list","items":"x"}}]`,
		"missing content": `[{"key":"a","heading":"A"}]`,
		"unknown section": `[{"key":"a","heading":"A","body":1,"content":{"kind":"text","text":"x"}}]`,
		"object bad item": `[{"key":"a","heading":"A","content":{"kind":"object","fields":[{"key":"k","value":"v","x":1}]}}]`,
	}
	for name, raw := range cases {
		if _, err := DecodeSections([]byte(raw)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestContentMarshalEmitsOnlyPayload(t *testing.T) {
	data, err := json.Marshal(List())
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"kind":"list","items":[]}` {
		t.Fatalf("unexpected json %s", data)
	}
	if _, err := json.Marshal(Content{}); err == nil {
		t.Fatalf("expected error for empty kind")
	}
}

func TestValidateRejectsDuplicateKeys(t *testing.T) {
	doc := Document{Title: "BRD", Sections: []Section{
		{Key: "a", Heading: "A", Content: Text("x")},
		{Key: "a", Heading: "B", Content: Text("y")},
	}}
	if err := doc.Validate(); err == nil {
		t.Fatalf("expected duplicate key error")
	}
}

func TestMarkdown(t *testing.T) {
	doc := Document{Title: "Checkout BRD", Version: 2, Sections: []Section{
		{Key: "summary", Heading: "Executive Summary", Content: Text("Ship it.")},
		{Key: "reqs", Heading: "Requirements", Content: List("Pay by card")},
		{Key: "empty", Heading: "Risks", Content: List()},
		{Key: "meta", Heading: "Meta", Content: Object(Field{Key: "Owner", Value: "Ops"})},
	}}
	md := Markdown(doc)
	for _, want := range []string{"# Checkout BRD", "_Version 2_", "## Executive Summary", "- Pay by card", "_None._", "- **Owner:** Ops"} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown missing %q:\n%s", want, md)
		}
	}
}
