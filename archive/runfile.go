package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/als-computing/otter/contexts"
)

// runFile mirrors the on-disk layout of a Badger archive run. Badger
// writes one YAML file per optimization run; the fields here are the
// subset otter reads.
type runFile struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	Environment struct {
		Name   string         `yaml:"name"`
		Params map[string]any `yaml:"params"`
	} `yaml:"environment"`

	Generator struct {
		Name   string         `yaml:"name"`
		Config map[string]any `yaml:",inline"`
	} `yaml:"generator"`

	VOCS struct {
		Variables   map[string][]float64 `yaml:"variables"`
		Objectives  map[string]string    `yaml:"objectives"`
		Constraints map[string]any       `yaml:"constraints"`
	} `yaml:"vocs"`

	Tags map[string]string `yaml:"tags"`

	RelativeToCurrent   bool             `yaml:"relative_to_current"`
	InitialPointActions []map[string]any `yaml:"initial_point_actions"`

	StartTime string `yaml:"start_time"`
	EndTime   string `yaml:"end_time"`

	// Data holds the evaluation history as per-column series. Objective
	// columns are keyed by objective name.
	Data map[string][]float64 `yaml:"data"`

	BadgerVersion string `yaml:"badger_version"`
	XoptVersion   string `yaml:"xopt_version"`
}

// runNameTimeLayout matches the timestamp Badger embeds in run names,
// e.g. BadgerOpt-2025-03-14-093015.
const runNameTimeLayout = "2006-01-02-150405"

// loadRunFile parses one archive file into a run context. The beamline
// comes from the file's tags when present, otherwise from the file's
// top-level directory under the archive root.
func loadRunFile(root, path string) (*contexts.BadgerRun, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run file: %w", err)
	}

	var rf runFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing run file %s: %w", filepath.Base(path), err)
	}

	run := &contexts.BadgerRun{
		RunName:             rf.Name,
		Beamline:            rf.Tags["beamline"],
		BadgerEnvironment:   rf.Environment.Name,
		Algorithm:           rf.Generator.Name,
		GeneratorConfig:     rf.Generator.Config,
		EnvironmentParams:   rf.Environment.Params,
		InitialPointActions: rf.InitialPointActions,
		RelativeToCurrent:   rf.RelativeToCurrent,
		BadgerVersion:       rf.BadgerVersion,
		XoptVersion:         rf.XoptVersion,
	}

	if run.RunName == "" {
		run.RunName = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if run.Beamline == "" {
		if rel, err := filepath.Rel(root, path); err == nil {
			if dir, _, ok := strings.Cut(rel, string(filepath.Separator)); ok {
				run.Beamline = dir
			}
		}
	}

	for _, name := range sortedKeys(rf.VOCS.Variables) {
		bounds := rf.VOCS.Variables[name]
		if len(bounds) != 2 {
			return nil, fmt.Errorf("variable %q in %s has %d bounds, want 2", name, rf.Name, len(bounds))
		}
		run.Variables = append(run.Variables, contexts.VariableRange{
			Name:  name,
			Range: [2]float64{bounds[0], bounds[1]},
		})
	}
	for _, name := range sortedKeys(rf.VOCS.Objectives) {
		run.Objectives = append(run.Objectives, contexts.Objective{
			Name:      name,
			Direction: contexts.Direction(strings.ToUpper(rf.VOCS.Objectives[name])),
		})
	}
	for _, name := range sortedKeys(rf.VOCS.Constraints) {
		run.Constraints = append(run.Constraints, name)
	}

	run.ObjectiveSeries = make(map[string][]float64, len(run.Objectives))
	for _, obj := range run.Objectives {
		if series, ok := rf.Data[obj.Name]; ok {
			run.ObjectiveSeries[obj.Name] = series
			if len(series) > run.NumEvaluations {
				run.NumEvaluations = len(series)
			}
		}
	}

	run.NumInitialPoints = initialPointCount(rf.Generator.Config)

	run.StartedAt = parseRunTime(rf.StartTime, rf.Name)
	if rf.EndTime != "" {
		if t, err := time.Parse(time.RFC3339, rf.EndTime); err == nil {
			run.FinishedAt = t
		}
	}

	return run, nil
}

// parseRunTime prefers the explicit start_time field and falls back to
// the timestamp embedded in the run name.
func parseRunTime(startTime, runName string) time.Time {
	if startTime != "" {
		if t, err := time.Parse(time.RFC3339, startTime); err == nil {
			return t
		}
	}
	if rest, ok := strings.CutPrefix(runName, "BadgerOpt-"); ok {
		if t, err := time.Parse(runNameTimeLayout, rest); err == nil {
			return t
		}
	}
	return time.Time{}
}

// initialPointCount reads the initial sampling size from the generator
// config. Different generator versions use different key names.
func initialPointCount(config map[string]any) int {
	for _, key := range []string{"n_initial_points", "n_init", "init_points"} {
		if v, ok := config[key]; ok {
			switch n := v.(type) {
			case int:
				return n
			case float64:
				return int(n)
			}
		}
	}
	return 0
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
