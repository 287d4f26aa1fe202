// Package entityextract provides a lightweight, offline fallback for
// entity extraction when a SummarizerTask's LLM call omits an entities
// field.
package entityextract

import (
	"strings"

	"github.com/tsawler/prose/v3"

	"github.com/TokenRollAI/engram/internal/types"
)

// Entity is one entity found in free text, before persistence.
type Entity struct {
	Name       string
	Type       types.EntityType
	Confidence float64
}

// Extractor pulls named entities out of plain text using prose's
// pretrained NER model.
type Extractor struct{}

// New builds an Extractor.
func New() *Extractor { return &Extractor{} }

// Extract runs NER over text, mapping prose's label vocabulary onto
// types.EntityType. Labels outside that vocabulary are dropped rather than
// mapped to a catch-all, since entities are stored against a closed type set.
func (e *Extractor) Extract(text string) []Entity {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	doc, err := prose.NewDocument(text)
	if err != nil {
		return nil
	}

	var out []Entity
	for _, ent := range doc.Entities() {
		t, ok := mapLabel(ent.Label)
		if !ok {
			continue
		}
		out = append(out, Entity{Name: ent.Text, Type: t, Confidence: 0.6})
	}
	return out
}

// ExtractNames returns just the entity names, for callers that only need
// the flat string list the VLM contract and session entity merge use.
func (e *Extractor) ExtractNames(text string) []string {
	entities := e.Extract(text)
	names := make([]string, 0, len(entities))
	for _, ent := range entities {
		names = append(names, ent.Name)
	}
	return names
}

func mapLabel(label string) (types.EntityType, bool) {
	switch strings.ToUpper(label) {
	case "PERSON":
		return types.EntityPerson, true
	case "ORG", "PRODUCT", "FAC":
		return types.EntityProject, true
	default:
		return "", false
	}
}
