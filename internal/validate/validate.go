// Package validate checks application forms against JSON schemas before
// they are stored.
package validate

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var (
	//go:embed draft.schema.json
	draftSchema string

	//go:embed submitted.schema.json
	submittedSchema string
)

// ErrInvalidForm wraps every schema violation.
var ErrInvalidForm = errors.New("invalid application form")

// Validator holds the compiled form schemas.
type Validator struct {
	draft     *gojsonschema.Schema
	submitted *gojsonschema.Schema
}

// New compiles the embedded schemas.
func New() (*Validator, error) {
	draft, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(draftSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile draft schema: %w", err)
	}
	submitted, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(submittedSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile submitted schema: %w", err)
	}
	return &Validator{draft: draft, submitted: submitted}, nil
}

// Form validates a raw JSON form. Drafts are only type checked; a complete
// form must also satisfy the submitted schema.
func (v *Validator) Form(raw []byte, draft bool) error {
	if err := check(v.draft, raw); err != nil {
		return err
	}
	if draft {
		return nil
	}
	return check(v.submitted, raw)
}

func check(schema *gojsonschema.Schema, raw []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidForm, err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return fmt.Errorf("%w: %s", ErrInvalidForm, strings.Join(errs, "; "))
	}
	return nil
}
