package chain

import (
	"sync"

	"github.com/forgelabs/forgecore/pkg/block"
)

// Consumer ingests blocks as the consensus engine commits to them:
// persistence, RPC caches, external mirrors. Consume must be idempotent
// for the same (block hash, commitment) pair, since re-delivery after a
// restart is possible.
type Consumer interface {
	Consume(b *block.Executed, commitment block.Commitment)
}

// delivery is one queued (block, commitment) tuple.
type delivery struct {
	block      *block.Executed
	commitment block.Commitment
}

// Fanout broadcasts committed blocks to every registered consumer from
// a dedicated goroutine, so slow consumers (disk, external databases)
// never stall the consensus loop. The queue is unbounded; backpressure
// is not applied to the event loop.
type Fanout struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     []delivery
	closed    bool
	done      chan struct{}
	consumers []Consumer
}

// NewFanout starts the drain goroutine over the given consumers.
func NewFanout(consumers ...Consumer) *Fanout {
	f := &Fanout{
		done:      make(chan struct{}),
		consumers: consumers,
	}
	f.cond = sync.NewCond(&f.mu)
	go f.drain()
	return f
}

// Consume enqueues one tuple for every consumer. Safe to call from the
// event loop; never blocks.
func (f *Fanout) Consume(b *block.Executed, commitment block.Commitment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.queue = append(f.queue, delivery{block: b, commitment: commitment})
	f.cond.Signal()
}

// Close stops the drain goroutine after the queue empties.
func (f *Fanout) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.cond.Signal()
	f.mu.Unlock()
	<-f.done
}

func (f *Fanout) drain() {
	defer close(f.done)
	for {
		f.mu.Lock()
		for len(f.queue) == 0 && !f.closed {
			f.cond.Wait()
		}
		if len(f.queue) == 0 && f.closed {
			f.mu.Unlock()
			return
		}
		d := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()

		for _, consumer := range f.consumers {
			consumer.Consume(d.block, d.commitment)
		}
	}
}
