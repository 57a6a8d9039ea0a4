package publish

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BitTorrentFileSharing/limedht/internal/dht"
	"github.com/BitTorrentFileSharing/limedht/internal/logger"
)

// Publishable is one value a Source wants stored under Key.
type Publishable struct {
	Key   dht.KUID
	Value dht.Value
}

func (p Publishable) entityKey() dht.EntityKey {
	return dht.EntityKey{Key: p.Key, Type: p.Value.Type()}
}

type Source interface {
	Publishables(now time.Time) []Publishable
}

// PublishListener is implemented by sources that track what was stored.
type PublishListener interface {
	Published(p Publishable, at time.Time)
}

type record struct {
	at      time.Time // last successful store, zero if never
	data    []byte
	pending bool
}

// Publisher periodically offers its source's values to the queue. A value
// goes out when it was never stored, its bytes changed, or its last store
// is older than every.
type Publisher struct {
	name      string
	client    dht.Client
	queue     *Queue
	source    Source
	frequency time.Duration
	every     time.Duration
	enabled   atomic.Bool

	mu      sync.Mutex
	records map[dht.EntityKey]*record
}

func NewPublisher(name string, client dht.Client, queue *Queue, source Source, frequency, every time.Duration) *Publisher {
	p := &Publisher{
		name:      name,
		client:    client,
		queue:     queue,
		source:    source,
		frequency: frequency,
		every:     every,
		records:   make(map[dht.EntityKey]*record),
	}
	p.enabled.Store(true)
	return p
}

func (p *Publisher) SetEnabled(on bool) { p.enabled.Store(on) }

// Run publishes every frequency until ctx is done.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.frequency)
	defer ticker.Stop()
	logger.Log("publisher_started", map[string]any{"name": p.name, "frequency": p.frequency.String()})
	for {
		p.Publish(time.Now())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Publish runs one round and returns how many values were queued.
func (p *Publisher) Publish(now time.Time) int {
	if !p.enabled.Load() || !p.client.Bootstrapped() {
		return 0
	}
	offered := p.source.Publishables(now)

	p.mu.Lock()
	seen := make(map[dht.EntityKey]bool, len(offered))
	var due []Publishable
	var payloads [][]byte
	for _, pub := range offered {
		ek := pub.entityKey()
		seen[ek] = true
		data, err := pub.Value.Bytes()
		if err != nil {
			logger.Error("publishable_invalid", err, map[string]any{"publisher": p.name, "key": pub.Key.String()})
			continue
		}
		rec := p.records[ek]
		if rec == nil {
			rec = &record{}
			p.records[ek] = rec
		}
		if rec.pending {
			continue
		}
		if !rec.at.IsZero() && bytes.Equal(rec.data, data) && now.Sub(rec.at) < p.every {
			continue
		}
		rec.pending = true
		due = append(due, pub)
		payloads = append(payloads, data)
	}
	for ek, rec := range p.records {
		if !seen[ek] && !rec.pending {
			delete(p.records, ek)
		}
	}
	p.mu.Unlock()

	queued := 0
	for i, pub := range due {
		if err := p.queue.Put(pub.Key, pub.Value, p.stored(pub, payloads[i], now)); err != nil {
			p.mu.Lock()
			if rec := p.records[pub.entityKey()]; rec != nil {
				rec.pending = false
			}
			p.mu.Unlock()
			continue
		}
		queued++
	}
	if queued > 0 {
		logger.Log("values_offered", map[string]any{"publisher": p.name, "count": queued, "sources": len(offered)})
	}
	return queued
}

// The store is stamped with the round that queued it.
func (p *Publisher) stored(pub Publishable, data []byte, at time.Time) Callback {
	return func(acks int, err error) {
		p.mu.Lock()
		rec := p.records[pub.entityKey()]
		if rec == nil {
			rec = &record{}
			p.records[pub.entityKey()] = rec
		}
		rec.pending = false
		if err == nil {
			rec.at = at
			rec.data = data
		}
		p.mu.Unlock()

		if err == nil {
			if l, ok := p.source.(PublishListener); ok {
				l.Published(pub, at)
			}
		}
	}
}

// LastPublished reports when key was last stored.
func (p *Publisher) LastPublished(key dht.EntityKey) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[key]
	if !ok || rec.at.IsZero() {
		return time.Time{}, false
	}
	return rec.at, true
}
