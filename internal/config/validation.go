package config

import (
	"fmt"
	"strings"
)

// ValidationError represents one schema violation with its location in the
// source document, grounded on giantswarm-muster's
// internal/config/validation.go ValidationError, extended with Path for the
// "precise location-annotated error" requirement of specification §4.2
// step 5.
type ValidationError struct {
	Path    string // dotted path into the document, e.g. "providers[2].name"
	Message string
}

// Error implements the error interface.
func (v ValidationError) Error() string {
	if v.Path == "" {
		return v.Message
	}
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// ValidationErrors collects every violation found by one validation pass.
type ValidationErrors []ValidationError

// Error implements the error interface, joining every violation.
func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "no validation errors"
	}
	if len(v) == 1 {
		return v[0].Error()
	}
	messages := make([]string, len(v))
	for i, e := range v {
		messages[i] = e.Error()
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors reports whether any violation was recorded.
func (v ValidationErrors) HasErrors() bool { return len(v) > 0 }

func (v *ValidationErrors) add(path, format string, args ...interface{}) {
	*v = append(*v, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// Validate checks every top-level section of doc against the rules
// restated from specification §4.7 and §4.8, returning every violation
// found rather than stopping at the first.
func Validate(doc *Document) ValidationErrors {
	var errs ValidationErrors

	seenProviderNames := make(map[string]bool)
	seenTypeID := make(map[string]bool)
	for i, p := range doc.Providers {
		path := fmt.Sprintf("providers[%d]", i)
		if p.Name == "" {
			errs.add(path+".name", "is required")
		} else if seenProviderNames[p.Name] {
			errs.add(path+".name", "duplicate provider name %q", p.Name)
		} else {
			seenProviderNames[p.Name] = true
		}
		if p.Type == "" {
			errs.add(path+".type", "is required")
		}
		if p.ProviderID != nil {
			key := fmt.Sprintf("%s:%d", p.Type, *p.ProviderID)
			if seenTypeID[key] {
				errs.add(path+".provider_id", "duplicate (type, provider_id) %s", key)
			}
			seenTypeID[key] = true
		}
		for slot, specs := range p.Dependencies {
			if len(specs) == 0 {
				errs.add(fmt.Sprintf("%s.dependencies.%s", path, slot), "has no entries")
			}
		}
	}

	seenClientNames := make(map[string]bool)
	for i, c := range doc.Clients {
		path := fmt.Sprintf("clients[%d]", i)
		if c.Name == "" {
			errs.add(path+".name", "is required")
		} else if seenClientNames[c.Name] {
			errs.add(path+".name", "duplicate client name %q", c.Name)
		} else {
			seenClientNames[c.Name] = true
		}
		if c.Type == "" {
			errs.add(path+".type", "is required")
		}
	}

	seenGroupNames := make(map[string]bool)
	validBootstraps := map[string]bool{
		"init": true, "join": true, "mpi": true, "pmix": true,
		"init|join": true, "mpi|join": true, "pmix|join": true,
	}
	for i, g := range doc.SSG {
		path := fmt.Sprintf("ssg[%d]", i)
		if g.Name == "" {
			errs.add(path+".name", "is required")
		} else if seenGroupNames[g.Name] {
			errs.add(path+".name", "duplicate group name %q", g.Name)
		} else {
			seenGroupNames[g.Name] = true
		}
		if !validBootstraps[g.Bootstrap] {
			errs.add(path+".bootstrap", "unrecognized bootstrap method %q", g.Bootstrap)
		}
	}

	if doc.Bedrock.DependencyResolutionTimeout < 0 {
		errs.add("bedrock.dependency_resolution_timeout", "must not be negative")
	}

	for name, path := range doc.Libraries {
		if name == "" {
			errs.add("libraries", "module name must not be empty (library %q)", path)
		}
	}

	return errs
}
