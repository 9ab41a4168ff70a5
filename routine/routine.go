// Package routine composes executable Badger routines from historical
// runs. A routine carries everything Badger needs to start an
// optimization: environment, VOCS (variables, objectives, constraints),
// generator, and safety settings. Proposed routines default to operating
// relative to the current machine state so they are safe to start from
// wherever the machine happens to be.
package routine

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/als-computing/otter/contexts"
)

// VOCS is the Badger routine form of a run's optimization problem.
type VOCS struct {
	Variables   map[string][]float64 `yaml:"variables"`
	Objectives  map[string]string    `yaml:"objectives"`
	Constraints map[string]any       `yaml:"constraints"`
	Constants   map[string]any       `yaml:"constants"`
	Observables []string             `yaml:"observables"`
}

// Environment identifies the Badger environment a routine runs against.
type Environment struct {
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:"params"`
}

// Generator selects the optimization algorithm.
type Generator struct {
	Name string `yaml:"name"`
}

// Routine is a complete Badger routine, serializable to the YAML Badger
// accepts.
type Routine struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Environment Environment `yaml:"environment"`
	VOCS        VOCS        `yaml:"vocs"`
	Generator   Generator   `yaml:"generator"`

	// InitialPoints stays nil; initial_point_actions supplies the start.
	InitialPoints any `yaml:"initial_points"`

	RelativeToCurrent   bool             `yaml:"relative_to_current"`
	InitialPointActions []map[string]any `yaml:"initial_point_actions"`

	CriticalConstraintNames []string `yaml:"critical_constraint_names"`

	VRangeLimitOptions any            `yaml:"vrange_limit_options"`
	VRangeHardLimit    map[string]any `yaml:"vrange_hard_limit"`

	BadgerVersion string `yaml:"badger_version,omitempty"`
}

// VOCSFromRun converts a run's recorded problem definition to routine
// form.
func VOCSFromRun(run *contexts.BadgerRun) VOCS {
	v := VOCS{
		Variables:   make(map[string][]float64, len(run.Variables)),
		Objectives:  make(map[string]string, len(run.Objectives)),
		Constraints: map[string]any{},
		Constants:   map[string]any{},
		Observables: []string{},
	}
	for _, vr := range run.Variables {
		v.Variables[vr.Name] = []float64{vr.Range[0], vr.Range[1]}
	}
	for _, obj := range run.Objectives {
		v.Objectives[obj.Name] = string(obj.Direction)
	}
	return v
}

// Compose builds a routine from a successful run. nameOverride replaces
// the default "<run_name>-proposed" name when non-empty. Safety settings
// are always defaulted rather than copied: the routine starts from the
// current machine state and works relative to it.
func Compose(run *contexts.BadgerRun, nameOverride string) (*Routine, error) {
	if run == nil {
		return nil, fmt.Errorf("no run to compose a routine from")
	}
	if len(run.Variables) == 0 {
		return nil, fmt.Errorf("run %s has no variables", run.RunName)
	}
	if len(run.Objectives) == 0 {
		return nil, fmt.Errorf("run %s has no objectives", run.RunName)
	}
	if run.BadgerEnvironment == "" {
		return nil, fmt.Errorf("run %s has no environment", run.RunName)
	}
	if run.Algorithm == "" {
		return nil, fmt.Errorf("run %s has no generator", run.RunName)
	}

	name := nameOverride
	if name == "" {
		name = run.RunName + "-proposed"
	}

	return &Routine{
		Name: name,
		Description: fmt.Sprintf(
			"Routine based on successful run: %s\nAlgorithm: %s, Beamline: %s\nGenerated from optimization run with %d evaluations.",
			run.RunName, run.Algorithm, run.Beamline, run.NumEvaluations),
		Environment: Environment{
			Name:   run.BadgerEnvironment,
			Params: map[string]any{},
		},
		VOCS:      VOCSFromRun(run),
		Generator: Generator{Name: run.Algorithm},

		RelativeToCurrent:   true,
		InitialPointActions: []map[string]any{{"type": "add_curr"}},

		CriticalConstraintNames: []string{},
		VRangeHardLimit:         map[string]any{},

		BadgerVersion: run.BadgerVersion,
	}, nil
}

// ToYAML serializes the routine in the form Badger ingests.
func (r *Routine) ToYAML() (string, error) {
	var sb strings.Builder
	enc := yaml.NewEncoder(&sb)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return "", fmt.Errorf("serializing routine %s: %w", r.Name, err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("serializing routine %s: %w", r.Name, err)
	}
	return sb.String(), nil
}
