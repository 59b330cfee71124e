// Package provider talks to OpenAI-compatible language-model backends and
// runs them as an ordered fallback chain.
package provider

import (
	"sort"

	"github.com/shopkeeper/backend/internal/config"
)

// Descriptor identifies one upstream credential. Several descriptors may
// share a Name when keys are rotated against the same backend.
type Descriptor struct {
	Name    string
	BaseURL string
	APIKey  string
	Model   string
	Display string
}

// Registry is the immutable, ordered list of descriptors built at startup.
type Registry struct {
	descriptors []Descriptor
}

// NewRegistry orders providers by ascending priority. Entries with equal
// priority keep their configured order.
func NewRegistry(providers []config.ProviderConfig) *Registry {
	sorted := make([]config.ProviderConfig, len(providers))
	copy(sorted, providers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	descriptors := make([]Descriptor, 0, len(sorted))
	for _, p := range sorted {
		display := p.Display
		if display == "" {
			display = p.Name
		}
		descriptors = append(descriptors, Descriptor{
			Name:    p.Name,
			BaseURL: p.BaseURL,
			APIKey:  p.APIKey,
			Model:   p.Model,
			Display: display,
		})
	}
	return &Registry{descriptors: descriptors}
}

// NewStaticRegistry keeps the given order as-is.
func NewStaticRegistry(descriptors ...Descriptor) *Registry {
	return &Registry{descriptors: append([]Descriptor(nil), descriptors...)}
}

// Descriptors returns a copy of the ordered list.
func (r *Registry) Descriptors() []Descriptor {
	if r == nil {
		return nil
	}
	return append([]Descriptor(nil), r.descriptors...)
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.descriptors)
}
