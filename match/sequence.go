package match

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Frame is one image of a sequence: its detected stars.
type Frame struct {
	ID    string
	Stars []Point
}

// FrameResult is the registration outcome of one frame. Err may be soft
// (see IsSoft), in which case Result is still set.
type FrameResult struct {
	FrameID  string
	Result   *Result
	Err      error
	Duration time.Duration
}

// RegisterSequence matches every frame against ref using up to workers
// goroutines. Frames are independent: one frame's failure is recorded in its
// FrameResult and does not stop the others. Cancelling ctx stops frames that
// have not started yet; their Err is the context error. The returned error is
// ctx.Err() if the run was cancelled.
func RegisterSequence(ctx context.Context, m *Matcher, ref *Reference, frames []Frame, workers int) ([]FrameResult, error) {
	results := make([]FrameResult, len(frames))
	if workers <= 0 {
		workers = 1
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i, f := range frames {
		results[i].FrameID = f.ID
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			start := time.Now()
			res, err := m.MatchReference(f.Stars, ref)
			results[i].Result = res
			results[i].Err = err
			results[i].Duration = time.Since(start)
			if err != nil {
				m.logger.Warn("frame registration failed", "frame", f.ID, "error", err, "soft", IsSoft(err))
			} else {
				m.logger.Debug("frame registered", "frame", f.ID, "pairs", res.Diagnostics.PairMatched)
			}
			return nil
		})
	}
	// workers record failures per frame and never fail the group
	g.Wait()
	return results, ctx.Err()
}
