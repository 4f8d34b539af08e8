// Package journal defines the fixed shape of a group journal, validates it
// against a JSON schema and supplies the canned fallback used whenever
// synthesis cannot produce a valid result.
package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// FallbackSummary is the placeholder summary stored when synthesis fails.
const FallbackSummary = "Journal synthesis is pending."

// Journal is the synthesized per-group summary.
type Journal struct {
	Summary       string   `json:"summary"`
	Themes        []string `json:"themes"`
	Highlights    []string `json:"highlights"`
	Mood          string   `json:"mood"`
	OpenQuestions []string `json:"open_questions"`
	ItemCount     int      `json:"item_count"`
	GeneratedAt   string   `json:"generated_at"`
}

// SchemaJSON is the JSON schema every stored journal satisfies.
const SchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["summary", "themes", "highlights", "mood", "open_questions", "item_count", "generated_at"],
  "additionalProperties": false,
  "properties": {
    "summary":        {"type": "string", "minLength": 1},
    "themes":         {"type": "array", "items": {"type": "string"}},
    "highlights":     {"type": "array", "items": {"type": "string"}},
    "mood":           {"type": "string"},
    "open_questions": {"type": "array", "items": {"type": "string"}},
    "item_count":     {"type": "integer", "minimum": 0},
    "generated_at":   {"type": "string", "minLength": 1}
  }
}`

const schemaURL = "journal.schema.json"

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(SchemaJSON))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, err
	}
	return c.Compile(schemaURL)
})

// Validate checks raw against the journal schema.
func Validate(raw []byte) error {
	sch, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("journal: compile schema: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("journal: decode: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("journal: schema: %w", err)
	}
	return nil
}

// Fallback returns the schema-valid placeholder journal.
func Fallback(itemCount int, now time.Time) Journal {
	return Journal{
		Summary:       FallbackSummary,
		Themes:        []string{},
		Highlights:    []string{},
		Mood:          "unknown",
		OpenQuestions: []string{},
		ItemCount:     itemCount,
		GeneratedAt:   now.UTC().Format(time.RFC3339),
	}
}

// IsFallback reports whether j is the canned placeholder.
func (j Journal) IsFallback() bool {
	return j.Summary == FallbackSummary && len(j.Themes) == 0 && len(j.Highlights) == 0
}

// Marshal encodes j. Nil slices are emitted as empty arrays.
func (j Journal) Marshal() json.RawMessage {
	j.Themes = nonNil(j.Themes)
	j.Highlights = nonNil(j.Highlights)
	j.OpenQuestions = nonNil(j.OpenQuestions)
	data, _ := json.Marshal(j)
	return data
}

// Parse decodes a stored journal. Stored journals are always valid, so an
// error here means the row was written by something else.
func Parse(raw []byte) (Journal, error) {
	var j Journal
	if err := Validate(raw); err != nil {
		return j, err
	}
	if err := json.Unmarshal(raw, &j); err != nil {
		return j, fmt.Errorf("journal: decode: %w", err)
	}
	return j, nil
}

// Normalize coerces loosely shaped provider output into a Journal: missing
// lists become empty, single strings become one-element lists, unknown keys
// are dropped. The item count and timestamp are always set by the caller's
// values. It fails when the result still does not satisfy the schema.
func Normalize(raw []byte, itemCount int, now time.Time) (Journal, error) {
	var loose map[string]any
	if err := json.Unmarshal(raw, &loose); err != nil {
		return Journal{}, fmt.Errorf("journal: provider output is not an object: %w", err)
	}
	j := Journal{
		Summary:       strings.TrimSpace(asString(loose["summary"])),
		Themes:        asStrings(loose["themes"]),
		Highlights:    asStrings(loose["highlights"]),
		Mood:          strings.TrimSpace(asString(loose["mood"])),
		OpenQuestions: asStrings(loose["open_questions"]),
		ItemCount:     itemCount,
		GeneratedAt:   now.UTC().Format(time.RFC3339),
	}
	if err := Validate(j.Marshal()); err != nil {
		return Journal{}, err
	}
	return j, nil
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func asStrings(v any) []string {
	out := []string{}
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			out = append(out, s)
		}
	case []any:
		for _, item := range t {
			if s := strings.TrimSpace(asString(item)); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
