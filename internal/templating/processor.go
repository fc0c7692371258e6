// Package templating resolves {variable}-style placeholders against variable
// sets. Resolution is local-first: a placeholder is looked up in the supplied
// local set, then in the global User and App scopes, and finally substituted
// with an empty string if unresolved anywhere.
package templating

import (
	"regexp"

	"chatflow/internal/variables"
)

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z0-9][A-Za-z0-9._-]*)\}`)

// Processor substitutes placeholders using a global variable store as the
// fallback for names not found in the local set.
type Processor struct {
	store *variables.Store
}

// NewProcessor creates a processor backed by the given store.
func NewProcessor(store *variables.Store) *Processor {
	return &Processor{store: store}
}

// Process replaces each {name} placeholder in template with the value of the
// named variable. Substitution is a single pass: values that themselves
// contain placeholder syntax are not expanded further, which bounds execution
// time and rules out infinite expansion. Input without placeholders is
// returned unchanged.
func (p *Processor) Process(template string, local *variables.Set) string {
	if template == "" {
		return template
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		if local != nil {
			if v, ok := local.GetByName(name); ok {
				return v
			}
		}
		if v, ok := p.store.User.GetByName(name); ok {
			return v
		}
		if v, ok := p.store.App.GetByName(name); ok {
			return v
		}
		return ""
	})
}
