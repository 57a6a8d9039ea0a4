// Package publish keeps our values stored in the DHT: a rate limited store
// queue and periodic publishers fed by value sources.
package publish

import (
	"context"
	"sync"

	"github.com/BitTorrentFileSharing/limedht/internal/dht"
	"github.com/BitTorrentFileSharing/limedht/internal/logger"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

var ErrQueueClosed = errors.New("publish: queue closed")

// Callback receives the number of nodes that acknowledged the store.
type Callback func(acks int, err error)

type item struct {
	key       dht.KUID
	value     dht.Value
	callbacks []Callback
}

func (it *item) done(acks int, err error) {
	for _, cb := range it.callbacks {
		if cb != nil {
			cb(acks, err)
		}
	}
}

// Queue runs DHT stores in FIFO order, a bounded number at a time.
type Queue struct {
	client  dht.Client
	stack   *MaxStack
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending []*item
	index   map[dht.EntityKey]*item
	closed  bool
}

func NewQueue(client dht.Client, maxParallel int, storesPerSecond float64) *Queue {
	stack := NewMaxStack(maxParallel)
	limit := rate.Limit(storesPerSecond)
	if storesPerSecond <= 0 {
		limit = rate.Inf
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		client:  client,
		stack:   stack,
		limiter: rate.NewLimiter(limit, stack.Max()),
		ctx:     ctx,
		cancel:  cancel,
		index:   make(map[dht.EntityKey]*item),
	}
}

// Put enqueues a store. A pending store of the same key and type takes
// the new value and keeps both callbacks.
func (q *Queue) Put(key dht.KUID, value dht.Value, cb Callback) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	ek := dht.EntityKey{Key: key, Type: value.Type()}
	if it, ok := q.index[ek]; ok {
		it.value = value
		it.callbacks = append(it.callbacks, cb)
		logger.Debug("store_coalesced", map[string]any{"key": key.String(), "type": string(ek.Type)})
		return nil
	}
	it := &item{key: key, value: value, callbacks: []Callback{cb}}
	q.pending = append(q.pending, it)
	q.index[ek] = it
	q.next()
	return nil
}

// Pending is the number of stores waiting for a slot.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// InFlight is the number of stores running.
func (q *Queue) InFlight() int { return q.stack.Count() }

// Starts as many pending items as there are free slots. Caller holds mu.
func (q *Queue) next() {
	for len(q.pending) > 0 && q.stack.Push() {
		it := q.pending[0]
		q.pending = q.pending[1:]
		delete(q.index, dht.EntityKey{Key: it.key, Type: it.value.Type()})
		q.wg.Add(1)
		go q.run(it)
	}
}

func (q *Queue) run(it *item) {
	defer q.wg.Done()

	acks, err := 0, q.limiter.Wait(q.ctx)
	if err == nil {
		acks, err = q.client.Put(q.ctx, it.key, it.value)
	}
	if err != nil && q.ctx.Err() != nil {
		err = ErrQueueClosed
	}
	if err != nil {
		logger.Log("store_failed", map[string]any{"key": it.key.String(), "type": string(it.value.Type()), "err": err.Error()})
	} else {
		logger.Debug("store_done", map[string]any{"key": it.key.String(), "type": string(it.value.Type()), "acks": acks})
	}
	it.done(acks, err)

	q.stack.Pop()
	q.mu.Lock()
	if !q.closed {
		q.next()
	}
	q.mu.Unlock()
}

// Close cancels running stores and fails pending ones with ErrQueueClosed.
// It returns once every callback has fired.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := q.pending
	q.pending = nil
	q.index = make(map[dht.EntityKey]*item)
	q.mu.Unlock()

	q.cancel()
	for _, it := range pending {
		it.done(0, ErrQueueClosed)
	}
	q.wg.Wait()
}
