package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/multiformats/go-multihash"
)

// AnalyzeDocument runs Analyze with at most one identical analysis in
// flight per document id. Concurrent callers with the same id and the same
// request share the first caller's result, which must be treated as
// read-only; a different framework set, clause list or CIA flag for the
// same id runs separately. The shared run is detached from any single
// caller's cancellation and bounded by the analysis timeout; each caller
// still stops waiting when its own ctx is done.
func (a *Analyzer) AnalyzeDocument(ctx context.Context, documentID string, req AnalyzeRequest) (*AnalyzeResult, error) {
	key, err := requestKey(req)
	if err != nil {
		return nil, err
	}
	if documentID != "" {
		key = documentID + "|" + key
	}

	detached := context.WithoutCancel(ctx)
	ch := a.inflight.DoChan(key, func() (interface{}, error) {
		return a.Analyze(detached, req)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			a.metrics.shared()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*AnalyzeResult), nil
	}
}

func requestKey(req AnalyzeRequest) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to hash request: %w", err)
	}
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("failed to hash request: %w", err)
	}
	return "mh:" + mh.B58String(), nil
}
