package manifest

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/schema"

	schemasassets "github.com/3leaps/gosbatch/internal/assets/schemas"
	"github.com/3leaps/gosbatch/pkg/errdefs"
)

// Kind selects the schema a document is validated against.
type Kind string

const (
	KindJob Kind = "job"
	KindApp Kind = "app"
)

// ErrValidationFailed indicates a manifest failed schema validation. It
// matches errdefs.ErrValidation.
var ErrValidationFailed = fmt.Errorf("%w: manifest validation failed", errdefs.ErrValidation)

type lazyValidator struct {
	once   sync.Once
	source []byte
	v      *schema.Validator
	err    error
}

// Compiled once from the embedded schemas on first use.
var validators = map[Kind]*lazyValidator{
	KindJob: {source: schemasassets.JobManifestSchema},
	KindApp: {source: schemasassets.AppManifestSchema},
}

// ValidationError represents a single validation issue.
type ValidationError struct {
	// Path is the JSON pointer to the problematic field (e.g., "/nodeCount").
	Path string

	Message string
}

// Error implements error interface.
func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "manifest validation failed with %d errors:\n", len(e))
	for i, err := range e {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap returns ErrValidationFailed.
func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// Validate checks a parsed manifest against its schema.
func Validate(kind Kind, m any) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to serialize manifest for validation: %w", err)
	}
	return ValidateRaw(kind, data)
}

// ValidateRaw checks raw JSON data against the schema for kind.
//
// Returns nil if validation succeeds, or a ValidationErrors with details
// about all validation failures.
func ValidateRaw(kind Kind, jsonData []byte) error {
	v, err := getValidator(kind)
	if err != nil {
		return err
	}

	diags, err := v.ValidateJSON(jsonData)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	var errs ValidationErrors
	for _, d := range diags {
		// Warnings are informational.
		if d.Severity == schema.SeverityError {
			errs = append(errs, ValidationError{Path: d.Pointer, Message: d.Message})
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func getValidator(kind Kind) (*schema.Validator, error) {
	lv, ok := validators[kind]
	if !ok {
		return nil, fmt.Errorf("unknown manifest kind %q", kind)
	}
	lv.once.Do(func() {
		if len(lv.source) == 0 {
			lv.err = fmt.Errorf("embedded %s schema is empty", kind)
			return
		}
		lv.v, lv.err = schema.NewValidator(lv.source)
		if lv.err != nil {
			lv.err = fmt.Errorf("failed to compile %s schema: %w", kind, lv.err)
		}
	})
	return lv.v, lv.err
}
