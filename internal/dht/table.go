package dht

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/BitTorrentFileSharing/limedht/internal/logger"
)

const kSize = 8 // Bucket size

type bucket struct{ contacts []Contact }

// Table is a Kademlia routing table of 160 XOR buckets.
type Table struct {
	mu     sync.RWMutex
	self   KUID
	bucket [IDLen * 8]bucket
}

func NewTable(self KUID) *Table {
	return &Table{self: self}
}

// Inserts or Refreshes contact *c* in the appropriate bucket.
//   - Self-ID is never stored.
//   - A full bucket drops its least recently seen contact.
func (t *Table) Update(c Contact) {
	if c.ID == t.self || c.Addr == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	bucketIdx := prefixLen(c.ID.Xor(t.self))
	b := &t.bucket[bucketIdx]

	// Remove existing instance (refresh)
	for idx, known := range b.contacts {
		if known.ID == c.ID {
			b.contacts = slices.Delete(b.contacts, idx, idx+1)
			break
		}
	}

	c.Time = time.Now()
	b.contacts = append(b.contacts, c)

	if len(b.contacts) > kSize {
		b.contacts = b.contacts[1:]
	}

	logger.Debug("rt_update", map[string]any{"peer": c.Addr.String(), "bucket": bucketIdx})
}

// Remove drops a contact that stopped answering.
func (t *Table) Remove(id KUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := &t.bucket[prefixLen(id.Xor(t.self))]
	for idx, known := range b.contacts {
		if known.ID == id {
			b.contacts = slices.Delete(b.contacts, idx, idx+1)
			return
		}
	}
}

// Finds closest contacts to the target
func (t *Table) Closest(target KUID, n int) []Contact {
	t.mu.RLock()
	candidates := make([]Contact, 0, n*2)
	for _, b := range t.bucket {
		candidates = append(candidates, b.contacts...)
	}
	t.mu.RUnlock()

	sortByDistance(candidates, target)
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}

func (t *Table) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, b := range t.bucket {
		n += len(b.contacts)
	}
	return n
}

// Contacts returns up to n known contacts in bucket order.
func (t *Table) Contacts(n int) []Contact {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Contact
	for _, b := range t.bucket {
		for _, c := range b.contacts {
			if len(out) >= n {
				return out
			}
			out = append(out, c)
		}
	}
	return out
}

func sortByDistance(cs []Contact, target KUID) {
	sort.Slice(cs, func(i, j int) bool { return target.Closer(cs[i].ID, cs[j].ID) })
}
