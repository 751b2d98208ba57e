package engine

import (
	"context"
	"sync"

	"github.com/weavegraph/weavegraph/errs"
	"github.com/weavegraph/weavegraph/workflow"
)

// branchFunc runs one parallel branch to its natural end (a node with no
// successor) and returns the branch's final variable snapshot.
type branchFunc func(ctx context.Context, nodeID string) (map[string]any, error)

// branchResult is the outcome of one forked branch.
type branchResult struct {
	nodeID string
	vars   map[string]any
	err    error
}

// runParallel forks one goroutine per branch and waits according to mode:
// WaitForAll requires every branch to finish, the first
// error cancelling its peers; FirstSuccess returns on the first success,
// cancelling the rest, and only fails if every branch fails. Grounded on
// the goroutine-per-branch + channel-future pattern of
// runtime/agent/engine/inmem/engine.go's handle/future types, generalized
// from a single future to an N-way fan-in.
func runParallel(ctx context.Context, branches []string, mode workflow.ParallelMode, run branchFunc) (map[string]map[string]any, error) {
	branchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan branchResult, len(branches))
	var wg sync.WaitGroup
	for _, nodeID := range branches {
		wg.Add(1)
		go func(nodeID string) {
			defer wg.Done()
			vars, err := run(branchCtx, nodeID)
			results <- branchResult{nodeID: nodeID, vars: vars, err: err}
		}(nodeID)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	merged := make(map[string]map[string]any, len(branches))
	var errs_ []error
	remaining := len(branches)
	for remaining > 0 {
		res, ok := <-results
		if !ok {
			break
		}
		remaining--
		if res.err != nil {
			errs_ = append(errs_, res.err)
			if mode == workflow.WaitForAll {
				cancel()
			}
			continue
		}
		merged[res.nodeID] = res.vars
		if mode == workflow.FirstSuccess {
			cancel()
			break
		}
	}

	switch mode {
	case workflow.FirstSuccess:
		if len(merged) == 0 {
			return nil, errs.New(errs.KindHandlerError, "parallel: every branch failed: %v", errs_)
		}
		return merged, nil
	default: // WaitForAll
		if len(errs_) > 0 {
			return nil, errs.New(errs.KindHandlerError, "parallel: %d of %d branches failed: %v", len(errs_), len(branches), errs_)
		}
		return merged, nil
	}
}
