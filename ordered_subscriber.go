package dbus

import (
	"context"
	"sync"

	"github.com/busforge/dbus/wire"
	"github.com/creachadair/mds/queue"
)

// orderedSubscriberQueueLimit bounds how many undelivered signals an
// OrderedSubscriber buffers before it starts dropping new arrivals,
// mirroring danderson-dbus's Watcher overflow behavior rather than growing
// without bound when a consumer stalls indefinitely.
const orderedSubscriberQueueLimit = 256

// OrderedSubscriber wraps the raw channel Router.Subscribe hands back with
// an internal FIFO buffer and a single pump goroutine, so a consumer that
// occasionally falls behind still observes every signal in the exact order
// the transport surfaced it (spec §5's single-connection ordering
// guarantee) instead of racing against Subscribe's fixed-capacity channel.
type OrderedSubscriber struct {
	out chan *wire.Message

	stop        chan struct{}
	wake        chan struct{}
	feedStopped chan struct{}
	pumpStopped chan struct{}
	unsubscribe func()

	mu       sync.Mutex
	queue    queue.Queue[*wire.Message]
	overflow bool
}

// NewOrderedSubscriber subscribes rule on r and returns an OrderedSubscriber
// delivering matches through Chan in strict arrival order.
func (r *Router) NewOrderedSubscriber(ctx context.Context, rule MatchRule) (*OrderedSubscriber, error) {
	raw, unsubscribe, err := r.Subscribe(ctx, rule)
	if err != nil {
		return nil, err
	}
	o := &OrderedSubscriber{
		out:         make(chan *wire.Message),
		stop:        make(chan struct{}),
		wake:        make(chan struct{}, 1),
		feedStopped: make(chan struct{}),
		pumpStopped: make(chan struct{}),
		unsubscribe: unsubscribe,
	}
	go o.feed(raw)
	go o.pump()
	return o, nil
}

// Chan returns the channel signals are delivered on, in FIFO order.
func (o *OrderedSubscriber) Chan() <-chan *wire.Message { return o.out }

// Overflow reports whether the internal buffer ever had to drop a signal
// because the consumer fell more than orderedSubscriberQueueLimit messages
// behind.
func (o *OrderedSubscriber) Overflow() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.overflow
}

// Close removes the underlying subscription and stops delivery. Chan is
// closed once both the feed and pump goroutines have exited.
func (o *OrderedSubscriber) Close() {
	select {
	case <-o.stop:
		return
	default:
		close(o.stop)
	}
	o.unsubscribe()
	<-o.feedStopped
	<-o.pumpStopped
	o.mu.Lock()
	o.queue.Clear()
	o.mu.Unlock()
}

// feed drains the router's raw subscription channel into the internal
// queue until Close fires. It never uses range over raw: Router.Subscribe's
// stop() detaches the subscription from delivery but never closes the
// channel, so a bare range would leak this goroutine forever.
func (o *OrderedSubscriber) feed(raw <-chan *wire.Message) {
	defer close(o.feedStopped)
	for {
		select {
		case msg := <-raw:
			o.enqueue(msg)
		case <-o.stop:
			return
		}
	}
}

func (o *OrderedSubscriber) enqueue(msg *wire.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.queue.Len() >= orderedSubscriberQueueLimit {
		o.overflow = true
		return
	}
	o.queue.Add(msg)
	if o.queue.Len() == 1 {
		select {
		case o.wake <- struct{}{}:
		default:
		}
	}
}

// pump is the sole reader and writer of the queue's front, guaranteeing
// messages leave in the order enqueue put them in.
func (o *OrderedSubscriber) pump() {
	defer close(o.pumpStopped)
	defer close(o.out)
	for {
		msg := func() *wire.Message {
			o.mu.Lock()
			defer o.mu.Unlock()
			m, _ := o.queue.Pop()
			return m
		}()
		if msg == nil {
			select {
			case <-o.stop:
				return
			case <-o.wake:
				continue
			}
		}
		select {
		case o.out <- msg:
		case <-o.stop:
			return
		}
	}
}
