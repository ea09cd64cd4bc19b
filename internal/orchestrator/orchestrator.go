package orchestrator

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// MaxWorkers bounds how many devices are provisioned concurrently:
// cameras share one provisioning segment, so fanning out to every
// device at once buys little and adds DHCP noise while addresses
// change underneath the server.
const MaxWorkers = 4

// Run provisions devices as they arrive on records. Once ctx is done no
// further device is dispatched, and a device that starts after that fails
// before step 1. A device already running is not stopped at a step
// boundary: the call in flight ends with ctx's error, its remaining steps
// still start, each of their calls fails at once with ctx's error, and
// the device ends at its first aborting step with a failed status. Run returns once
// records is closed and every in-flight worker has finished, so a caller
// that feeds records from a live lease watcher gets devices provisioned
// while the server keeps running, not only after shutdown. Order of
// records in the returned Summary matches the order devices complete,
// not the order they arrived, since workers race.
func Run(ctx context.Context, records <-chan DeviceRecord, opts Options, log *zap.SugaredLogger) Summary {
	var summary Summary
	var mu sync.Mutex
	var wg sync.WaitGroup

	sem := make(chan struct{}, MaxWorkers)

loop:
	for {
		select {
		case rec, ok := <-records:
			if !ok {
				break loop
			}

			// Resolved here, on the single dispatch goroutine, so a
			// Positional plan hands out addresses in discovery order
			// regardless of how worker goroutines are scheduled.
			finalAddr, assignErr := opts.Plan.Next(rec.HWAddr)

			wg.Add(1)
			sem <- struct{}{}
			go func(rec DeviceRecord) {
				defer wg.Done()
				defer func() { <-sem }()

				result := provisionOne(ctx, rec, finalAddr, assignErr, opts, log)

				mu.Lock()
				summary.Add(result)
				mu.Unlock()
			}(rec)
		case <-ctx.Done():
			break loop
		}
	}

	wg.Wait()
	return summary
}
