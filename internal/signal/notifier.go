// Package signal delivers receipt lifecycle outcomes to external adapters.
// Delivery is best effort: the notifier never blocks or fails the ledger
// transition that produced an outcome.
package signal

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/moltbunker/solverbond/internal/hub"
	"github.com/moltbunker/solverbond/internal/ledger"
	"github.com/moltbunker/solverbond/internal/logging"
	"github.com/moltbunker/solverbond/internal/util"
	"github.com/moltbunker/solverbond/pkg/types"
)

// Notification results passed to a Recorder.
const (
	ResultDelivered = "delivered"
	ResultFailed    = "failed"
	ResultDropped   = "dropped"
)

// Sink receives outcomes.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, o types.Outcome) error
}

// Recorder counts notification results.
type Recorder interface {
	RecordNotification(result string)
}

// Options configure a Notifier.
type Options struct {
	BufferSize int
	Retry      *util.RetryConfig
	Recorder   Recorder
}

// Stats are the notifier's cumulative counters.
type Stats struct {
	Enqueued  uint64 `json:"enqueued"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}

// Notifier maps committed ledger events to outcomes and fans them out to its
// sinks from a single worker.
type Notifier struct {
	queue    chan types.Outcome
	sinks    []Sink
	retry    *util.RetryConfig
	recorder Recorder

	enqueued  atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   <-chan struct{}
}

// NewNotifier creates a notifier for sinks.
func NewNotifier(opts Options, sinks ...Sink) *Notifier {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1024
	}
	if opts.Retry == nil {
		opts.Retry = util.DefaultRetryConfig()
	}
	return &Notifier{
		queue:    make(chan types.Outcome, opts.BufferSize),
		sinks:    sinks,
		retry:    opts.Retry,
		recorder: opts.Recorder,
	}
}

// Attach subscribes the notifier to l. The returned func detaches it.
func (n *Notifier) Attach(l *ledger.Ledger) func() {
	return l.Subscribe(func(ev ledger.Event) {
		for _, o := range Outcomes(ev) {
			n.Enqueue(o)
		}
	})
}

// Enqueue queues o without blocking. It reports false when the buffer is
// full and the outcome was dropped.
func (n *Notifier) Enqueue(o types.Outcome) bool {
	select {
	case n.queue <- o:
		n.enqueued.Add(1)
		return true
	default:
		n.dropped.Add(1)
		n.record(ResultDropped)
		logging.Warn("outcome notification dropped",
			logging.Component("signal"),
			"kind", o.Kind.String(),
			logging.ReceiptID(o.ReceiptID))
		return false
	}
}

// Start runs the delivery worker until Stop or ctx is done.
func (n *Notifier) Start(ctx context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.done = util.SafeGoWithName("outcome-notifier", func() { n.run(ctx) })
}

// Stop halts the worker and waits for it. Queued outcomes are discarded.
func (n *Notifier) Stop() {
	n.mu.Lock()
	cancel, done := n.cancel, n.done
	n.cancel, n.done = nil, nil
	n.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Stats returns the cumulative counters.
func (n *Notifier) Stats() Stats {
	return Stats{
		Enqueued:  n.enqueued.Load(),
		Delivered: n.delivered.Load(),
		Failed:    n.failed.Load(),
		Dropped:   n.dropped.Load(),
	}
}

func (n *Notifier) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-n.queue:
			for _, sink := range n.sinks {
				n.deliver(ctx, sink, o)
			}
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, sink Sink, o types.Outcome) {
	result := util.Retry(ctx, n.retry, func() error {
		return sink.Deliver(ctx, o)
	})
	if result.LastError != nil {
		n.failed.Add(1)
		n.record(ResultFailed)
		logging.Warn("outcome delivery failed",
			logging.Component("signal"),
			"sink", sink.Name(),
			"kind", o.Kind.String(),
			logging.ReceiptID(o.ReceiptID),
			"attempts", result.Attempts,
			logging.Err(result.LastError))
		return
	}
	n.delivered.Add(1)
	n.record(ResultDelivered)
}

func (n *Notifier) record(result string) {
	if n.recorder != nil {
		n.recorder.RecordNotification(result)
	}
}

// Outcomes maps a committed hub event to the outcomes it reports. Other
// events map to none.
func Outcomes(ev ledger.Event) []types.Outcome {
	switch data := ev.Data.(type) {
	case hub.ReceiptFinalized:
		return []types.Outcome{{
			Kind:      types.OutcomeFinalized,
			ReceiptID: data.ReceiptID,
			SolverID:  data.SolverID,
			Time:      ev.Time,
		}}
	case hub.DisputeRejected:
		return []types.Outcome{{
			Kind:      types.OutcomeDisputeWon,
			ReceiptID: data.ReceiptID,
			SolverID:  data.SolverID,
			Time:      ev.Time,
		}}
	case hub.ReceiptSlashed:
		out := []types.Outcome{{
			Kind:      types.OutcomeDisputeLost,
			ReceiptID: data.ReceiptID,
			SolverID:  data.SolverID,
			Time:      ev.Time,
		}}
		if data.Amount != nil && data.Amount.Sign() > 0 {
			out = append(out, types.Outcome{
				Kind:      types.OutcomeSlashed,
				ReceiptID: data.ReceiptID,
				SolverID:  data.SolverID,
				Amount:    data.Amount,
				Time:      ev.Time,
			})
		}
		return out
	}
	return nil
}
