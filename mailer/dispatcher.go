package mailer

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/iaasstore/restmailer/message"
	"github.com/iaasstore/restmailer/tracker"
)

// Dispatcher runs deliveries in the background, capping how many are in
// flight at once. Deliveries past the cap wait their turn instead of being
// refused.
type Dispatcher struct {
	deliverer *Deliverer
	sem       *semaphore.Weighted
	wg        sync.WaitGroup

	// ctx is the process-lifetime context. Canceling it aborts queued and
	// in-flight deliveries; a graceful shutdown leaves it alone and uses
	// Wait.
	ctx context.Context
}

// NewDispatcher returns a Dispatcher delivering through d with at most
// maxConcurrent deliveries in flight.
func NewDispatcher(ctx context.Context, d *Deliverer, maxConcurrent int64) *Dispatcher {
	return &Dispatcher{
		deliverer: d,
		sem:       semaphore.NewWeighted(maxConcurrent),
		ctx:       ctx,
	}
}

// Dispatch schedules msg for delivery and returns right away. The outcome
// lands in the message's delivery record.
func (dp *Dispatcher) Dispatch(msg message.Message) {
	dp.wg.Add(1)
	queuedDeliveries.Inc()

	go func() {
		defer dp.wg.Done()
		defer queuedDeliveries.Dec()

		if err := dp.sem.Acquire(dp.ctx, 1); err != nil {
			dp.deliverer.Tracker.Log(msg.GUID, "mailer",
				fmt.Sprintf("delivery aborted while waiting for a worker slot: %v", err))
			dp.deliverer.Tracker.SetState(msg.GUID, tracker.StateError)
			return
		}
		defer dp.sem.Release(1)

		dp.deliverer.Deliver(dp.ctx, msg)
	}()
}

// Deliver runs one delivery on the caller's goroutine. Synchronous sends
// don't count against the concurrency cap; the caller is already waiting.
func (dp *Dispatcher) Deliver(ctx context.Context, msg message.Message) bool {
	return dp.deliverer.Deliver(ctx, msg)
}

// Wait blocks until every dispatched delivery has finished. Call after the
// HTTP listener has stopped accepting work.
func (dp *Dispatcher) Wait() {
	dp.wg.Wait()
}
