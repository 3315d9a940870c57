// Package task carries progress and result messages from background
// pipeline runs to the interactive goroutine.
package task

import "fmt"

// Kind identifies the variant of a Message.
type Kind int

const (
	KindStatus      Kind = iota // Status line update.
	KindUpdateField             // Write text into a named output field.
	KindError                   // User-visible failure notice.
	KindDone                    // Terminal message for a run.
)

func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindUpdateField:
		return "update_field"
	case KindError:
		return "error"
	case KindDone:
		return "done"
	default:
		return "unknown"
	}
}

// FieldID names an output field owned by the interactive goroutine.
type FieldID string

const (
	FieldCaption    FieldID = "caption"
	FieldTags       FieldID = "tags"
	FieldCardPrompt FieldID = "card_prompt"
	FieldCardOutput FieldID = "card_output"
	FieldSDPrompt   FieldID = "sd_prompt"
	FieldSDOutput   FieldID = "sd_output"
)

// Fields lists every output field in display order.
func Fields() []FieldID {
	return []FieldID{FieldCaption, FieldTags, FieldCardPrompt, FieldCardOutput, FieldSDPrompt, FieldSDOutput}
}

// Message is a single progress or result event produced by a run.
// Only the fields relevant to Kind are set.
type Message struct {
	RunID string
	Kind  Kind
	Text  string  // Status text, error text, or field content.
	Field FieldID // Set for KindUpdateField.
	Tag   string  // Set for KindDone.
}

// Status builds a status-line message.
func Status(runID, text string) Message {
	return Message{RunID: runID, Kind: KindStatus, Text: text}
}

// UpdateField builds a field write message.
func UpdateField(runID string, field FieldID, text string) Message {
	return Message{RunID: runID, Kind: KindUpdateField, Field: field, Text: text}
}

// Error builds a failure message.
func Error(runID, text string) Message {
	return Message{RunID: runID, Kind: KindError, Text: text}
}

// Done builds the terminal message of a run.
func Done(runID, tag string) Message {
	return Message{RunID: runID, Kind: KindDone, Tag: tag}
}

func (m Message) String() string {
	switch m.Kind {
	case KindUpdateField:
		return fmt.Sprintf("%s(%s, %d bytes)", m.Kind, m.Field, len(m.Text))
	case KindDone:
		return fmt.Sprintf("%s(%s)", m.Kind, m.Tag)
	default:
		return fmt.Sprintf("%s(%q)", m.Kind, m.Text)
	}
}
