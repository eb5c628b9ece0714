package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/schema"

	schemasassets "github.com/3leaps/memosweep/internal/assets/schemas"
	"github.com/3leaps/memosweep/pkg/match"
	"github.com/3leaps/memosweep/pkg/remote/dropbox"
	"github.com/3leaps/memosweep/pkg/remote/file"
	"github.com/3leaps/memosweep/pkg/remote/s3"
)

// SchemaID is the schema identifier for job manifests.
const SchemaID = "memosweep/v1.0.0/job-manifest"

// Validation errors
var (
	// ErrSchemaNotFound indicates the schema file could not be located.
	ErrSchemaNotFound = errors.New("manifest schema not found")

	// ErrValidationFailed indicates the manifest failed schema validation.
	ErrValidationFailed = errors.New("manifest validation failed")
)

// Cached validator instance (compiled once from embedded schema)
var (
	validatorOnce sync.Once
	validator     *schema.Validator
	validatorErr  error
)

// ValidationError represents a single validation issue.
type ValidationError struct {
	// Path is the JSON pointer to the problematic field (e.g., "/target/root").
	Path string

	// Message describes the validation failure.
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
	b.WriteString("manifest validation failed with ")
	b.WriteString(fmt.Sprintf("%d errors:\n", len(e)))
	for i, err := range e {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error type.
func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// Validate checks a decoded manifest: the schema first, then the rules the
// schema cannot express (per-backend batch limits, compilable target
// rules). An empty backend is checked as the Dropbox default.
func Validate(m *Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to serialize manifest for validation: %w", err)
	}
	if err := ValidateRaw(data); err != nil {
		return err
	}
	if errs := checkSemantics(m); len(errs) > 0 {
		return errs
	}
	return nil
}

// BatchLimit returns the largest delete batch backend accepts, or 0 when
// the backend has no limit of its own.
func BatchLimit(backend string) int {
	switch backend {
	case "", dropbox.BackendName:
		return dropbox.MaxBatchSize
	case s3.BackendName:
		return s3.MaxBatchSize
	}
	return 0
}

func checkSemantics(m *Manifest) ValidationErrors {
	var errs ValidationErrors
	add := func(path, format string, args ...any) {
		errs = append(errs, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	c := m.Connection
	backend := c.Backend
	if backend == "" {
		backend = DefaultBackend
	}
	switch backend {
	case s3.BackendName:
		if strings.TrimSpace(c.Bucket) == "" {
			add("/connection/bucket", "required for the s3 backend")
		}
	case file.BackendName:
		if strings.TrimSpace(c.BaseDir) == "" {
			add("/connection/base_dir", "required for the file backend")
		}
	}

	if limit := BatchLimit(backend); limit > 0 && m.Sweep.BatchSize > limit {
		add("/sweep/batch_size", "%d exceeds the %s limit of %d", m.Sweep.BatchSize, backend, limit)
	}

	for i, rule := range m.Target.Excludes {
		if _, err := match.NewExclusions([]string{rule}); err != nil {
			add(fmt.Sprintf("/target/excludes/%d", i), "%v", err)
		}
	}
	for i, p := range m.Target.Patterns {
		if _, err := match.NewPattern(p); err != nil {
			add(fmt.Sprintf("/target/patterns/%d", i), "%v", err)
		}
	}
	return errs
}

// ValidateRaw checks raw JSON data against the manifest schema.
//
// Loaders call it on the original document so unknown fields are rejected
// before decoding drops them. The schema is embedded at compile time, so validation works correctly
// in installed binaries and library consumers without requiring schema
// files to be present on disk.
//
// Returns nil if validation succeeds, or a ValidationErrors with details
// about all validation failures.
func ValidateRaw(jsonData []byte) error {
	// Get or compile the validator from embedded schema
	v, err := getValidator()
	if err != nil {
		return err
	}

	// Validate against schema
	diags, err := v.ValidateJSON(jsonData)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	// Convert diagnostics to validation errors
	if len(diags) == 0 {
		return nil
	}

	var errs ValidationErrors
	for _, d := range diags {
		// Only include errors, not warnings
		if d.Severity == schema.SeverityError {
			errs = append(errs, ValidationError{
				Path:    d.Pointer,
				Message: d.Message,
			})
		}
	}

	if len(errs) == 0 {
		return nil
	}

	return errs
}

// getValidator returns a cached validator compiled from the embedded schema.
//
// The validator is compiled once on first use and cached for subsequent calls.
// This is thread-safe via sync.Once.
func getValidator() (*schema.Validator, error) {
	validatorOnce.Do(func() {
		if len(schemasassets.JobManifestSchema) == 0 {
			validatorErr = fmt.Errorf("%w: embedded job-manifest schema is empty", ErrSchemaNotFound)
			return
		}
		validator, validatorErr = schema.NewValidator(schemasassets.JobManifestSchema)
		if validatorErr != nil {
			validatorErr = fmt.Errorf("failed to compile manifest schema: %w", validatorErr)
		}
	})
	return validator, validatorErr
}
