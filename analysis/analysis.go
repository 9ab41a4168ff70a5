// Package analysis derives performance metrics from Badger run
// histories. It distinguishes the best observed value from the final
// value (Bayesian Optimization keeps exploring after its peak) and flags
// runs whose best came from initial sampling luck rather than the
// algorithm.
package analysis

import (
	"fmt"
	"sort"
	"time"

	"github.com/als-computing/otter/contexts"
)

// DefaultTopPerformers caps how many runs SuccessPatterns names.
const DefaultTopPerformers = 3

// AnalyzeRuns computes per-run details, aggregate success patterns, and
// per-algorithm statistics for a set of runs. Runs without evaluation
// data for their primary objective are skipped.
func AnalyzeRuns(runs []*contexts.BadgerRun) (*contexts.RunAnalysis, error) {
	if len(runs) == 0 {
		return nil, fmt.Errorf("no runs to analyze")
	}

	details := make([]contexts.RunDetail, 0, len(runs))
	for _, run := range runs {
		detail, err := AnalyzeRun(run)
		if err != nil {
			continue
		}
		details = append(details, *detail)
	}
	if len(details) == 0 {
		return nil, fmt.Errorf("none of the %d runs have evaluation data", len(runs))
	}

	return &contexts.RunAnalysis{
		PerRunDetails:   details,
		SuccessPatterns: successPatterns(details),
		ByAlgorithm:     byAlgorithm(details),
		AnalyzedAt:      time.Now().UTC(),
	}, nil
}

// AnalyzeRun computes the detail record for one run using its primary
// objective's evaluation series.
func AnalyzeRun(run *contexts.BadgerRun) (*contexts.RunDetail, error) {
	if len(run.Objectives) == 0 {
		return nil, fmt.Errorf("run %s has no objectives", run.RunName)
	}
	obj := run.PrimaryObjective()
	series := run.ObjectiveSeries[obj.Name]
	if len(series) == 0 {
		return nil, fmt.Errorf("run %s has no evaluation data for objective %s", run.RunName, obj.Name)
	}

	detail := &contexts.RunDetail{
		RunName:        run.RunName,
		Beamline:       run.Beamline,
		Algorithm:      run.Algorithm,
		StartedAt:      run.StartedAt,
		NumEvaluations: len(series),
		NumInitial:     run.NumInitialPoints,
		Objective:      obj.Name,
		Direction:      obj.Direction,
		InitialValue:   series[0],
		FinalValue:     series[len(series)-1],
	}

	bestIdx := 0
	for i, v := range series {
		if better(v, series[bestIdx], obj.Direction) {
			bestIdx = i
		}
	}
	detail.BestValue = series[bestIdx]
	detail.BestIteration = bestIdx + 1
	// Initial sampling luck requires the best to land inside the initial
	// points AND beat the starting value. A run whose best is its own
	// first evaluation never improved; that is a failed run, not a lucky
	// one.
	detail.BestFromInitial = run.NumInitialPoints > 0 && bestIdx < run.NumInitialPoints &&
		better(series[bestIdx], series[0], obj.Direction)

	// Best achieved by the model-guided phase alone. When every
	// evaluation is an initial point the optimization phase never ran
	// and the initial value stands in.
	detail.BestOutsideInitial = series[0]
	if run.NumInitialPoints < len(series) {
		optIdx := run.NumInitialPoints
		for i := run.NumInitialPoints; i < len(series); i++ {
			if better(series[i], series[optIdx], obj.Direction) {
				optIdx = i
			}
		}
		detail.BestOutsideInitial = series[optIdx]
	}

	detail.BestImprovementPct = improvementPct(detail.InitialValue, detail.BestValue, obj.Direction)
	detail.FinalImprovementPct = improvementPct(detail.InitialValue, detail.FinalValue, obj.Direction)
	detail.AlgorithmImprovementPct = improvementPct(detail.InitialValue, detail.BestOutsideInitial, obj.Direction)
	detail.ConvergenceSpeed = float64(detail.BestIteration) / float64(detail.NumEvaluations)

	return detail, nil
}

// better reports whether a improves on b for the given direction.
func better(a, b float64, d contexts.Direction) bool {
	if d == contexts.DirectionMinimize {
		return a < b
	}
	return a > b
}

// improvementPct is the signed percent change from initial to value,
// oriented so positive always means better. A zero initial value yields
// zero; there is no meaningful percent change from zero.
func improvementPct(initial, value float64, d contexts.Direction) float64 {
	if initial == 0 {
		return 0
	}
	pct := (value - initial) / abs(initial) * 100
	if d == contexts.DirectionMinimize {
		pct = -pct
	}
	return pct
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// successPatterns ranks runs by best improvement and computes the share
// of runs that improved at all.
func successPatterns(details []contexts.RunDetail) contexts.SuccessPatterns {
	ranked := make([]contexts.RunDetail, len(details))
	copy(ranked, details)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].BestImprovementPct > ranked[j].BestImprovementPct
	})

	n := DefaultTopPerformers
	if n > len(ranked) {
		n = len(ranked)
	}
	top := make([]contexts.TopPerformer, 0, n)
	for _, d := range ranked[:n] {
		top = append(top, contexts.TopPerformer{
			RunName:        d.RunName,
			ImprovementPct: d.BestImprovementPct,
			Algorithm:      d.Algorithm,
		})
	}

	improved := 0
	for _, d := range details {
		if d.BestImprovementPct > 0 {
			improved++
		}
	}

	return contexts.SuccessPatterns{
		TopPerformers: top,
		SuccessRate:   float64(improved) / float64(len(details)),
	}
}

func byAlgorithm(details []contexts.RunDetail) map[string]contexts.AlgorithmStats {
	stats := make(map[string]contexts.AlgorithmStats)
	sums := make(map[string][2]float64)
	for _, d := range details {
		s := stats[d.Algorithm]
		s.Runs++
		if d.BestFromInitial {
			s.LuckyRuns++
		}
		sum := sums[d.Algorithm]
		sum[0] += d.BestImprovementPct
		sum[1] += d.AlgorithmImprovementPct
		sums[d.Algorithm] = sum
		stats[d.Algorithm] = s
	}
	for algo, s := range stats {
		sum := sums[algo]
		s.MeanBestImprovementPct = sum[0] / float64(s.Runs)
		s.MeanAlgorithmPct = sum[1] / float64(s.Runs)
		stats[algo] = s
	}
	return stats
}

// SelectBestRun picks the run to base a new routine on: the top
// performer by best improvement whose source run is still present in the
// given set. Returns nil when the analysis names no usable run.
func SelectBestRun(a *contexts.RunAnalysis, runs *contexts.BadgerRuns) *contexts.BadgerRun {
	for _, top := range a.SuccessPatterns.TopPerformers {
		if run := runs.FindRun(top.RunName); run != nil {
			return run
		}
	}
	return nil
}
