package install

import (
	"context"
	"sync"

	"github.com/panjf2000/ants/v2"
	log "github.com/sirupsen/logrus"

	"dualpath/routing"
	"dualpath/sink"
)

// PoolConfig sizes the worker pool of InstallBatch.
type PoolConfig struct {
	MaxWorkers int `toml:"max_workers"`
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{MaxWorkers: 16}
}

// BatchResult is the outcome of one request of a batch.
type BatchResult struct {
	Request routing.Request
	Result  Result
	Err     error
}

// InstallBatch installs many requests concurrently on a worker pool and
// returns their results in request order. With ClearFirst every switch is
// cleared once before any request runs. Rules of different requests may
// interleave at the sink; rules of one request keep their order.
func (i *Installer) InstallBatch(ctx context.Context, reqs []routing.Request, config PoolConfig) ([]BatchResult, error) {
	results := make([]BatchResult, len(reqs))
	if len(reqs) == 0 {
		return results, nil
	}

	single := *i
	if i.ClearFirst {
		topo, err := i.Router.Topology()
		if err != nil {
			return nil, err
		}
		if _, err := sink.ClearAll(ctx, i.Sink, topo.Nodes()); err != nil {
			return nil, err
		}
		single.ClearFirst = false
	}

	workers := config.MaxWorkers
	if workers <= 0 {
		workers = DefaultPoolConfig().MaxWorkers
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	log.Infof("InstallBatch: installing %d requests with %d workers", len(reqs), workers)

	var wg sync.WaitGroup
	for idx, req := range reqs {
		idx, req := idx, req
		wg.Add(1)
		run := func() {
			defer wg.Done()
			result, err := single.Install(ctx, req)
			results[idx] = BatchResult{Request: req, Result: result, Err: err}
		}
		if err := pool.Submit(run); err != nil {
			log.Warnf("InstallBatch: failed to submit %s: %v, running inline", req, err)
			run()
		}
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	total := Summarize(results)
	log.Infof("InstallBatch: completed %d requests, %d failed, applied %d of %d rules",
		len(reqs), failed, len(total.Applied), total.Total)
	return results, nil
}

// Summarize merges the reports of a batch in request order. A request that
// failed before reaching the sink adds nothing.
func Summarize(results []BatchResult) sink.Report {
	var total sink.Report
	for _, r := range results {
		total.Merge(r.Result.Report)
	}
	return total
}
