package syncengine

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/deductiv/export-everything-sub000/internal/logging"
	"github.com/deductiv/export-everything-sub000/internal/metrics"
	"github.com/deductiv/export-everything-sub000/internal/record"
)

// competingDefaults returns the records of c, other than key, that are
// flagged as default, each with the flag cleared.
func competingDefaults(c record.Collection, key string) []record.Record {
	var out []record.Record
	for _, r := range c.Records {
		if r.Key != key && r.IsDefault() {
			out = append(out, r.With(record.FieldDefault, false))
		}
	}
	return out
}

// enforceExclusive clears the default flag of every other record when
// target is the default. The updates run concurrently and all of them
// settle before this returns; any failure fails the whole pass. The result
// is current with the cleared records substituted.
func (e *Engine) enforceExclusive(ctx context.Context, current record.Collection, target record.Record) (record.Collection, error) {
	if !target.IsDefault() {
		return current, nil
	}
	others := competingDefaults(current, target.Key)
	if len(others) == 0 {
		return current, nil
	}

	logger := logging.WithContext(ctx)
	logger.Debug("unsetting competing defaults",
		zap.String("collection", current.Name),
		zap.String("key", target.Key),
		zap.Int("count", len(others)))

	// No derived context: one failure must not cancel the other calls.
	var g errgroup.Group
	for _, r := range others {
		g.Go(func() error {
			cctx, cancel := e.callContext(ctx)
			defer cancel()
			if _, err := e.store.Update(cctx, current.Name, r.Key, r); err != nil {
				logger.Warn("failed to unset default",
					zap.String("collection", current.Name),
					zap.String("key", r.Key),
					zap.Error(err))
				return fmt.Errorf("unset default on %s/%s: %w", current.Name, r.Key, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return record.Collection{}, err
	}

	metrics.RecordDefaultUnsets(current.Name, len(others))
	next := current
	for _, r := range others {
		next = next.Replace(r.Key, r)
	}
	return next, nil
}
