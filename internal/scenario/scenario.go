// Package scenario loads and validates scenario files and provides the
// built-in comment widget scenario.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/widgetprobe/api/schemas"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid scenario")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads a YAML scenario file.
func Load(path string) (*schemas.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read scenario %s: %w", path, err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Parse decodes a YAML scenario, resolves step URLs against the scenario URL
// and validates the result. Unknown keys are rejected.
func Parse(data []byte) (*schemas.Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var sc schemas.Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("could not decode scenario: %w", err)
	}
	if err := resolveURLs(&sc); err != nil {
		return nil, err
	}
	if err := Validate(&sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks struct tags and the rules that depend on the step kind.
// All problems are reported together.
func Validate(sc *schemas.Scenario) error {
	var problems []string
	if err := validate.Struct(sc); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
		}
	}
	if len(sc.Steps) == 0 {
		problems = append(problems, "scenario has no steps")
	}

	names := make(map[string]int)
	locates := make(map[string]bool)
	sawLocate := false
	for i, step := range sc.Steps {
		where := fmt.Sprintf("step %d (%s)", i, step.Label())
		if step.Name != "" {
			if prev, dup := names[step.Name]; dup {
				problems = append(problems, fmt.Sprintf("%s: name already used by step %d", where, prev))
			}
			names[step.Name] = i
		}
		if step.Timeout < 0 || step.Duration < 0 {
			problems = append(problems, where+": durations must not be negative")
		}

		switch step.Kind {
		case schemas.StepNavigate:
			if step.URL == "" {
				problems = append(problems, where+": navigate needs a url")
			}
		case schemas.StepLocate:
			if len(step.Targets) == 0 {
				problems = append(problems, where+": locate needs targets")
			}
			if step.Name != "" {
				locates[step.Name] = true
			}
			sawLocate = true
		case schemas.StepFill, schemas.StepClick:
			switch {
			case len(step.Targets) > 0:
			case step.Ref != "":
				if !locates[step.Ref] {
					problems = append(problems, fmt.Sprintf("%s: ref %q does not name an earlier locate step", where, step.Ref))
				}
			case !sawLocate:
				problems = append(problems, where+": needs targets, a ref or an earlier locate step")
			}
		case schemas.StepWait:
			if step.WaitFor == "" && step.Timeout > 0 {
				problems = append(problems, where+": timeout only applies with wait_for")
			}
		case schemas.StepCount:
			if len(step.Targets) == 0 {
				problems = append(problems, where+": count needs targets")
			}
			if step.CaptureAs == "" {
				problems = append(problems, where+": count needs capture_as")
			}
		case schemas.StepAssert:
			problems = append(problems, assertionProblems(where, step.Assert)...)
		default:
			if step.Kind != "" {
				problems = append(problems, fmt.Sprintf("%s: unknown kind %q", where, step.Kind))
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w %q: %s", ErrInvalid, sc.Name, strings.Join(problems, "; "))
	}
	return nil
}

func assertionProblems(where string, a *schemas.Assertion) []string {
	if a == nil {
		return []string{where + ": assert needs an assertion"}
	}
	var problems []string
	if a.Comparator != "" && !a.Comparator.Valid() {
		problems = append(problems, fmt.Sprintf("%s: unknown comparator %q", where, a.Comparator))
	}
	if (a.Right == "") == (a.Literal == nil) {
		problems = append(problems, where+": assertion needs exactly one of right or literal")
	}
	return problems
}

// resolveURLs fills empty navigate URLs with the scenario URL and resolves
// relative ones against it.
func resolveURLs(sc *schemas.Scenario) error {
	var base *url.URL
	if sc.URL != "" {
		u, err := url.Parse(sc.URL)
		if err != nil {
			return fmt.Errorf("%w: scenario url: %v", ErrInvalid, err)
		}
		base = u
	}
	for i := range sc.Steps {
		step := &sc.Steps[i]
		if step.Kind != schemas.StepNavigate || base == nil {
			continue
		}
		if step.URL == "" {
			step.URL = base.String()
			continue
		}
		ref, err := url.Parse(step.URL)
		if err != nil {
			return fmt.Errorf("%w: step %d url: %v", ErrInvalid, i, err)
		}
		step.URL = base.ResolveReference(ref).String()
	}
	return nil
}
