package external

import (
	"context"
	"fmt"
	"hash/fnv"

	"climascope/internal/types"
)

// StubProvider is a deterministic NarrativeProvider used in test mode and
// local development. It never fails and produces stable output for a given
// section and prompt, so pipeline tests can assert on narrative content
// without network access.
type StubProvider struct {
	name string
}

// NewStubProvider creates a stub that reports the given provider name.
func NewStubProvider(name string) *StubProvider {
	return &StubProvider{name: name}
}

func (s *StubProvider) Name() string { return s.name }

// Generate returns canned prose keyed by section and a short prompt digest.
// The digest makes distinct inputs produce distinct output, which keeps
// cache-idempotence tests honest.
func (s *StubProvider) Generate(_ context.Context, sectionID types.SectionID, prompt string) (string, error) {
	h := fnv.New32a()
	h.Write([]byte(prompt))
	return fmt.Sprintf(
		"[stub:%s] Narrative for section %s (digest %08x). Conditions for the period are summarized from the provided figures.",
		s.name, sectionID, h.Sum32(),
	), nil
}
