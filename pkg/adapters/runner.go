package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/floranet/petal-oracle/pkg/observability"
	"github.com/floranet/petal-oracle/pkg/proof"
)

// Runner fans out to all registered adapters for one epoch.
type Runner struct {
	adapters []Adapter
	timeout  time.Duration
	log      *slog.Logger
	meter    *observability.Meter
}

// NewRunner builds a runner with a per-adapter deadline (default 4 s).
func NewRunner(list []Adapter, timeout time.Duration, log *slog.Logger) *Runner {
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{adapters: list, timeout: timeout, log: log, meter: observability.Noop()}
}

// WithMeter records adapter call latency on the given meter.
func (r *Runner) WithMeter(m *observability.Meter) *Runner {
	if m != nil {
		r.meter = m
	}
	return r
}

// Adapters returns the registered adapter ids in registration order.
func (r *Runner) Adapters() []string {
	ids := make([]string, len(r.adapters))
	for i, a := range r.adapters {
		ids[i] = a.ID()
	}
	return ids
}

// Run invokes every adapter concurrently. All must succeed: petals must
// agree on the adapter set, so a partial set cannot produce a matching
// state hash and the epoch is skipped instead.
func (r *Runner) Run(ctx context.Context) ([]proof.AdapterRecord, error) {
	if len(r.adapters) == 0 {
		return nil, fmt.Errorf("adapters: no adapters registered")
	}

	type result struct {
		idx    int
		record *proof.AdapterRecord
		err    error
	}

	results := make([]result, len(r.adapters))
	var wg sync.WaitGroup
	for i, a := range r.adapters {
		wg.Add(1)
		go func(i int, a Adapter) {
			defer wg.Done()
			actx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			start := time.Now()
			rec, err := a.Fetch(actx)
			r.meter.AdapterLatency(time.Since(start))
			results[i] = result{idx: i, record: rec, err: err}
		}(i, a)
	}
	wg.Wait()

	records := make([]proof.AdapterRecord, 0, len(r.adapters))
	var failed []string
	for i, res := range results {
		if res.err != nil {
			r.log.Warn("adapter failed", "adapter", r.adapters[i].ID(), "err", res.err)
			failed = append(failed, r.adapters[i].ID())
			continue
		}
		records = append(records, *res.record)
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		return nil, fmt.Errorf("adapters: epoch skipped, %d adapter(s) failed: %v", len(failed), failed)
	}
	return records, nil
}
