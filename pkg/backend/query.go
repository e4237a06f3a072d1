package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/pakmux/pakmux/pkg/action"
)

// queryParallel bounds the number of backends queried at once. Read-only
// calls have no transaction to serialize against, so they fan out.
const queryParallel = 4

// QueryResult pairs one backend with its outcome for a fan-out query.
type QueryResult struct {
	// Backend is the adapter queried.
	Backend string

	// Outcome is the canonical result, nil when Err is set.
	Outcome *Outcome

	// Err is the backend failure, nil on success.
	Err error
}

// QueryAll runs a read-only action against every eligible backend
// concurrently and returns results in priority order. A slow or failing
// backend never blocks the others beyond the context deadline.
func (r *Registry) QueryAll(ctx context.Context, act action.Action) ([]QueryResult, error) {
	if act.Kind.IsMutating() {
		return nil, fmt.Errorf("%s is not a read-only action", act.Kind)
	}

	candidates, err := r.Candidates(ctx, act.Kind, act.Options.Backend)
	if err != nil {
		return nil, err
	}

	workerCount := queryParallel
	if len(candidates) < workerCount {
		workerCount = len(candidates)
	}

	type job struct {
		idx     int
		backend Backend
	}
	queue := make(chan job, len(candidates))
	for i, b := range candidates {
		queue <- job{idx: i, backend: b}
	}
	close(queue)

	results := make([]QueryResult, len(candidates))
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range queue {
				outcome, err := j.backend.Execute(ctx, act, nil)
				results[j.idx] = QueryResult{
					Backend: j.backend.Name(),
					Outcome: outcome,
					Err:     err,
				}
				select {
				case <-ctx.Done():
					return
				default:
				}
			}
		}()
	}
	wg.Wait()

	// Workers that exited early on cancellation leave zero-value slots.
	for i, res := range results {
		if res.Backend == "" {
			results[i] = QueryResult{
				Backend: candidates[i].Name(),
				Err:     ctx.Err(),
			}
		}
	}
	return results, nil
}

// MergePackages flattens successful fan-out results into one package
// list, keeping priority order and dropping duplicates by name within a
// backend.
func MergePackages(results []QueryResult) []Package {
	var out []Package
	seen := make(map[string]bool)
	for _, res := range results {
		if res.Err != nil || res.Outcome == nil {
			continue
		}
		for _, pkg := range res.Outcome.Packages {
			key := res.Backend + "/" + pkg.Name + "@" + pkg.Version
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, pkg)
		}
	}
	return out
}
