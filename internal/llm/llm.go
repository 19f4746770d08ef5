// Package llm defines the optional language-model collaborator used by the
// portfolio manager and analysts for structured suggestions and prose.
// A nil LanguageModel everywhere means "deterministic path only".
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when a completion carries no JSON object
var ErrNoJSON = errors.New("completion contains no json object")

// Field describes one key of the expected JSON reply
type Field struct {
	Name        string
	Type        string // string, integer, number, boolean
	Description string
	Enum        []string
}

// Schema is the shape a completion must return
type Schema struct {
	Name   string
	Fields []Field
}

// Instruction renders the schema as a reply-format instruction
func (s Schema) Instruction() string {
	var b strings.Builder
	b.WriteString("Reply with a single JSON object and nothing else. Keys:\n")
	for _, f := range s.Fields {
		fmt.Fprintf(&b, "- %s (%s)", f.Name, f.Type)
		if len(f.Enum) > 0 {
			fmt.Fprintf(&b, " one of [%s]", strings.Join(f.Enum, ", "))
		}
		if f.Description != "" {
			b.WriteString(": " + f.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// LanguageModel completes a prompt into a JSON object matching schema
type LanguageModel interface {
	Complete(ctx context.Context, prompt string, schema Schema) (json.RawMessage, error)
}

// Func adapts a function to LanguageModel
type Func func(ctx context.Context, prompt string, schema Schema) (json.RawMessage, error)

// Complete calls f
func (f Func) Complete(ctx context.Context, prompt string, schema Schema) (json.RawMessage, error) {
	return f(ctx, prompt, schema)
}

// Static returns a LanguageModel that always replies with body
func Static(body string) LanguageModel {
	return Func(func(ctx context.Context, _ string, _ Schema) (json.RawMessage, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return json.RawMessage(body), nil
	})
}

// CompleteInto completes and decodes the reply into T
func CompleteInto[T any](ctx context.Context, lm LanguageModel, prompt string, schema Schema) (T, error) {
	var out T
	if lm == nil {
		return out, errors.New("no language model configured")
	}
	raw, err := lm.Complete(ctx, prompt, schema)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s reply: %w", schema.Name, err)
	}
	return out, nil
}

// ExtractJSON pulls the outermost JSON object out of model text,
// tolerating markdown fences and leading prose.
func ExtractJSON(text string) (json.RawMessage, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, ErrNoJSON
	}
	candidate := text[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return nil, fmt.Errorf("%w: malformed object", ErrNoJSON)
	}
	return json.RawMessage(candidate), nil
}
