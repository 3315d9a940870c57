package inference

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Format selects how a variant's raw output is parsed.
type Format string

const (
	// FormatJSON expects a JSON object with "description" and
	// "suggested_booru_tags" keys.
	FormatJSON Format = "json"
	// FormatText takes the raw output as-is.
	FormatText Format = "text"
)

// Profile describes one model variant.
type Profile struct {
	Name          string // Registry tag.
	ModelID       string // Identifier sent to the model server.
	Format        Format
	SystemPrompt  string
	CaptionPrompt string // Default prompt for the caption stage.
	TagsPrompt    string // Fixed prompt for the tags stage.
}

// Parsed is the structured result of reading raw model output.
type Parsed struct {
	Output      string
	Description string // Optional note on how the output was obtained.
}

// Variant is the per-model prompt and parsing strategy.
type Variant interface {
	Profile() Profile
	ParseCaption(raw string) Parsed
	ParseTags(raw string) Parsed
}

// NewVariant returns the Variant for p, parsing according to p.Format.
func NewVariant(p Profile) (Variant, error) {
	switch p.Format {
	case FormatJSON:
		return jsonVariant{profile: p}, nil
	case FormatText, "":
		p.Format = FormatText
		return textVariant{profile: p}, nil
	default:
		return nil, fmt.Errorf("inference: unknown format %q (must be json or text)", p.Format)
	}
}

type textVariant struct{ profile Profile }

func (v textVariant) Profile() Profile { return v.profile }

func (v textVariant) ParseCaption(raw string) Parsed {
	return Parsed{Output: strings.TrimSpace(raw)}
}

func (v textVariant) ParseTags(raw string) Parsed {
	out := strings.TrimSpace(raw)
	if out == "" {
		return Parsed{Output: "N/A", Description: "model returned no tags"}
	}
	return Parsed{Output: out}
}

type jsonVariant struct{ profile Profile }

func (v jsonVariant) Profile() Profile { return v.profile }

func (v jsonVariant) ParseCaption(raw string) Parsed {
	doc, ok := decodeObject(raw)
	if !ok {
		return Parsed{Output: strings.TrimSpace(raw), Description: "output was not JSON"}
	}
	if s := stringValue(doc["description"]); s != "" {
		return Parsed{Output: s}
	}
	return Parsed{Output: strings.TrimSpace(raw), Description: "description not found in JSON"}
}

func (v jsonVariant) ParseTags(raw string) Parsed {
	doc, ok := decodeObject(raw)
	if !ok {
		return Parsed{Output: "Error: Failed to parse JSON output.", Description: "output was not JSON"}
	}
	if s := stringValue(doc["suggested_booru_tags"]); s != "" {
		return Parsed{Output: s}
	}
	return Parsed{Output: "Error: Tags not found in JSON.", Description: "suggested_booru_tags missing"}
}

// decodeObject extracts the outermost JSON object from raw model output,
// ignoring markdown code fence lines and any prose around the object.
func decodeObject(raw string) (map[string]any, bool) {
	var kept []string
	for _, line := range strings.Split(raw, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	text := strings.Join(kept, "\n")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &doc); err != nil {
		return nil, false
	}
	return doc, true
}

// stringValue flattens a JSON value into display text. Arrays are joined
// with ", " as booru tag lists usually are.
func stringValue(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			if s := stringValue(e); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}
