package pipeline

import (
	"context"
	"errors"

	"github.com/dyike/AurumGo/internal/merger"
	"github.com/dyike/AurumGo/internal/models"
	"github.com/dyike/AurumGo/internal/storage"
)

// Merge combines the latest records of toolA and toolB and saves the result
// as the unified tool. Missing, unreadable or failed records count as absent.
func (r *Runner) Merge(ctx context.Context, toolA, toolB string) (*Result, error) {
	start := r.now()
	a := r.latestUsable(toolA)
	b := r.latestUsable(toolB)

	rec := r.merger.Merge(ctx, a, b)
	path, err := r.save(ctx, rec, merger.Tool)
	if err != nil {
		r.observe(merger.Tool, models.StatusFailed, start, nil)
		return nil, err
	}
	elapsed := r.now().Sub(start)
	r.observe(merger.Tool, rec.Status, start, rec.SpotPrice)
	r.log.Info().
		Str("a", toolA).
		Str("b", toolB).
		Str("source", rec.Source).
		Str("path", path).
		Msg("merge saved")

	r.notify(ctx, rec, path)
	return &Result{Tool: merger.Tool, Record: rec, Path: path, Elapsed: elapsed}, nil
}

func (r *Runner) latestUsable(tool string) *models.AnalysisRecord {
	rec, err := r.store.Latest(tool)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		r.log.Info().Str("tool", tool).Msg("no snapshot to merge")
		return nil
	case err != nil:
		r.log.Warn().Err(err).Str("tool", tool).Msg("unreadable snapshot, treating as absent")
		return nil
	case rec.Status == models.StatusFailed:
		r.log.Info().Str("tool", tool).Str("error", rec.Error).Msg("latest run failed, treating as absent")
		return nil
	}
	return rec
}
