package worker

import (
	"context"
	"sync/atomic"
	"time"

	"pkt.systems/pslog"

	"qms/ticket-service/internal/store"
)

// Dispatcher moves store events off the stores' critical paths. Stores call
// Notify, which never blocks; a single goroutine started with Start chains
// the events and hands them to every sink in order.
type Dispatcher struct {
	events     chan store.Event
	chain      *store.Chain
	sinks      []namedSink
	timeout    time.Duration
	logger     pslog.Logger
	dropped    atomic.Uint64
	dispatched atomic.Uint64
}

type namedSink struct {
	name string
	sink Sink
}

type Config struct {
	Buffer  int
	Timeout time.Duration
	Logger  pslog.Logger
}

var _ store.Notifier = (*Dispatcher)(nil)

func New(cfg Config) *Dispatcher {
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 256
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Dispatcher{
		events:  make(chan store.Event, buffer),
		chain:   store.NewChain(),
		timeout: timeout,
		logger:  logger.With("component", "events"),
	}
}

// AddSink registers a sink. Sinks must be added before Start.
func (d *Dispatcher) AddSink(name string, sink Sink) {
	d.sinks = append(d.sinks, namedSink{name: name, sink: sink})
}

// Notify queues an event for dispatch. When the buffer is full the event is
// dropped and counted.
func (d *Dispatcher) Notify(event store.Event) {
	select {
	case d.events <- event:
	default:
		d.dropped.Add(1)
	}
}

func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

func (d *Dispatcher) Dispatched() uint64 {
	return d.dispatched.Load()
}

// Start dispatches events until ctx is done, then flushes what is already
// buffered.
func (d *Dispatcher) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.flush()
			return
		case event := <-d.events:
			d.Run(ctx, event)
		}
	}
}

func (d *Dispatcher) flush() {
	for {
		select {
		case event := <-d.events:
			d.Run(context.Background(), event)
		default:
			if dropped := d.Dropped(); dropped > 0 {
				d.logger.Warn("events.dropped", "count", dropped)
			}
			return
		}
	}
}

// Run chains one event and delivers it. Sink failures are logged and do not
// stop delivery to the remaining sinks.
func (d *Dispatcher) Run(ctx context.Context, event store.Event) {
	chained, err := d.chain.Link(event)
	if err != nil {
		d.logger.Error("events.chain.error", "ticket_id", event.Ticket.ID, "error", err)
		return
	}
	for _, target := range d.sinks {
		deliverCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := target.sink.Deliver(deliverCtx, chained)
		cancel()
		if err != nil {
			d.logger.Warn("events.sink.error", "sink", target.name, "ticket_id", chained.TicketID, "seq", chained.TicketSeq, "error", err)
		}
	}
	d.dispatched.Add(1)
}
