package scenario

import (
	"context"
	"slices"

	"golang.org/x/sync/errgroup"
)

// Runner runs a batch of scenarios.
type Runner struct {
	Executor *Executor
	// Parallel is the number of scenarios run at once; 0 or 1 is sequential.
	Parallel int
}

// RunAll runs every scenario and returns results in input order. A failing
// or timed out scenario never stops or cancels the others.
func (r *Runner) RunAll(ctx context.Context, scenarios []Scenario) []ScenarioResult {
	results := make([]ScenarioResult, len(scenarios))
	var g errgroup.Group
	limit := r.Parallel
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, sc := range scenarios {
		if ctx.Err() != nil {
			results[i] = ScenarioResult{
				Name:   sc.Name,
				Tags:   sc.Tags,
				Driver: r.Executor.Driver().Name(),
				Status: StatusSkipped,
				Error:  ctx.Err().Error(),
			}
			continue
		}
		g.Go(func() error {
			results[i] = r.Executor.Run(ctx, sc)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Filter keeps scenarios whose name is in names and that carry every tag
// in tags. Empty filters keep everything.
func Filter(scenarios []Scenario, names, tags []string) []Scenario {
	var out []Scenario
	for _, sc := range scenarios {
		if len(names) > 0 && !slices.Contains(names, sc.Name) {
			continue
		}
		keep := true
		for _, tag := range tags {
			if !sc.HasTag(tag) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, sc)
		}
	}
	return out
}
