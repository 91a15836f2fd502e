package rabbitmqtest

import (
	"context"
	"sync"
)

// Settlement is how a delivery was settled
type Settlement string

const (
	Acked     Settlement = "ack"
	Requeued  Settlement = "nack-requeue"
	Nacked    Settlement = "nack"
	Rejected  Settlement = "reject"
	Unsettled Settlement = ""
)

// Acknowledger is an amqp.Acknowledger that records the settlement of one
// delivery.
type Acknowledger struct {
	mu      sync.Mutex
	result  Settlement
	calls   int
	settled chan struct{}
}

// NewAcknowledger creates an unsettled acknowledger
func NewAcknowledger() *Acknowledger {
	return &Acknowledger{settled: make(chan struct{})}
}

// Ack implements amqp.Acknowledger
func (a *Acknowledger) Ack(tag uint64, multiple bool) error {
	a.record(Acked)
	return nil
}

// Nack implements amqp.Acknowledger
func (a *Acknowledger) Nack(tag uint64, multiple, requeue bool) error {
	if requeue {
		a.record(Requeued)
	} else {
		a.record(Nacked)
	}
	return nil
}

// Reject implements amqp.Acknowledger
func (a *Acknowledger) Reject(tag uint64, requeue bool) error {
	if requeue {
		a.record(Requeued)
	} else {
		a.record(Rejected)
	}
	return nil
}

func (a *Acknowledger) record(s Settlement) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.calls == 1 {
		a.result = s
		close(a.settled)
	}
}

// Wait blocks until the delivery is settled and returns the settlement, or
// Unsettled when ctx ends first.
func (a *Acknowledger) Wait(ctx context.Context) Settlement {
	select {
	case <-a.settled:
		return a.Result()
	case <-ctx.Done():
		return Unsettled
	}
}

// Result returns the first settlement recorded
func (a *Acknowledger) Result() Settlement {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result
}

// Calls returns how many times the delivery was settled
func (a *Acknowledger) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}
