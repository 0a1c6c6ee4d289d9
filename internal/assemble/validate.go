package assemble

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/samber/lo"

	"github.com/hurttlocker/ofnr/internal/ofnr"
	"github.com/hurttlocker/ofnr/internal/request"
)

// SchemaViolation names the first path of an output that breaks the master
// schema or an ontology invariant.
type SchemaViolation struct {
	Path   string
	Reason string
}

func (e *SchemaViolation) Error() string {
	if e.Path == "" {
		return "schema violation: " + e.Reason
	}
	return fmt.Sprintf("schema violation at %s: %s", e.Path, e.Reason)
}

// Unwrap lets errors.Is(err, ofnr.ErrSchemaViolation) match.
func (e *SchemaViolation) Unwrap() error {
	return ofnr.ErrSchemaViolation
}

func violation(path, format string, args ...any) error {
	return &SchemaViolation{Path: path, Reason: fmt.Sprintf(format, args...)}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks out against the master schema and the ontology
// invariants: feelings are canonical and never pseudo-feelings, needs are
// listed and name no PLATO element, observations hold no judgment marker
// and every request meets the threshold or is flagged low_quality.
func (a *Assembler) Validate(out *ValidatedOutput) error {
	if out == nil {
		return violation("", "nil output")
	}
	if err := a.validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			_, path, _ := strings.Cut(fe.Namespace(), ".")
			reason := fe.Tag()
			if fe.Param() != "" {
				reason += "=" + fe.Param()
			}
			return violation(path, "failed %s", reason)
		}
		return violation("", "%v", err)
	}
	return a.invariants(out)
}

func (a *Assembler) invariants(out *ValidatedOutput) error {
	for i, o := range out.OFNR.Observations {
		if a.store.Judgments().Contains(o) {
			return violation(fmt.Sprintf("ofnr.observations[%d]", i), "contains a judgment marker")
		}
	}
	for i, f := range out.OFNR.Feelings {
		path := fmt.Sprintf("ofnr.feelings[%d]", i)
		if a.store.IsPseudoFeeling(f) {
			return violation(path, "%q is a pseudo-feeling", f)
		}
		if !a.store.IsFeeling(f) {
			return violation(path, "%q is not a canonical feeling", f)
		}
	}
	for i, n := range out.OFNR.Needs {
		path := fmt.Sprintf("ofnr.needs[%d]", i)
		if !a.store.IsNeed(n) {
			return violation(path, "%q is not in the locked needs list", n)
		}
		if m := a.store.Plato().Match(n); len(m) > 0 {
			return violation(path, "%q names a %s", n, m[0].Element)
		}
	}

	scores := lo.KeyBy(out.Quality.RequestScores, func(r RequestScore) string { return r.Text })
	for i, r := range out.OFNR.Requests {
		path := fmt.Sprintf("ofnr.requests[%d]", i)
		sc, ok := scores[r]
		if !ok {
			return violation(path, "request has no quality score")
		}
		if sc.Composite < a.threshold && !lo.Contains(sc.Flags, request.FlagLowQuality) {
			return violation(path, "composite %.3f below threshold %.3f and not flagged %s", sc.Composite, a.threshold, request.FlagLowQuality)
		}
	}

	total := 0
	for _, n := range out.Safety.Counts {
		total += n
	}
	if total != len(out.Diagnostics) {
		return violation("safety.counts", "counts sum to %d, %d diagnostics recorded", total, len(out.Diagnostics))
	}
	return nil
}

// ValidateDocument decodes one JSON output and validates it. Unknown fields
// are violations.
func (a *Assembler) ValidateDocument(data []byte) (*ValidatedOutput, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var out ValidatedOutput
	if err := dec.Decode(&out); err != nil {
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) {
			return nil, violation(te.Field, "expected %s, got %s", te.Type, te.Value)
		}
		return nil, violation("", "decode: %v", err)
	}
	if err := a.Validate(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MasterSchema renders the JSON Schema of ValidatedOutput.
func MasterSchema() ([]byte, error) {
	r := &jsonschema.Reflector{}
	s := r.Reflect(&ValidatedOutput{})
	s.Title = "OFNR validated output"
	s.Version = jsonschema.Version
	return json.MarshalIndent(s, "", "  ")
}
