package dht

import (
	"bytes"
	"sync"
	"time"
)

// Database holds the values other nodes stored on us.
// There is one entity per (key, type, creator); a newer store replaces it.
type Database interface {
	Store(e Entity) error
	Get(key KUID, vt ValueType) ([]Entity, error)
	Remove(key KUID, vt ValueType, creator KUID) error
	// Purge drops entities created before the cutoff and reports how many.
	Purge(before time.Time) (int, error)
	Count() int
	Close() error
}

type entityID struct {
	key     KUID
	vtype   ValueType
	creator KUID
}

type memoryDB struct {
	mu     sync.RWMutex
	values map[entityID]Entity
}

func NewMemoryDatabase() Database {
	return &memoryDB{values: make(map[entityID]Entity)}
}

func (db *memoryDB) Store(e Entity) error {
	e.Data = bytes.Clone(e.Data)
	db.mu.Lock()
	db.values[entityID{e.Key, e.Type, e.Creator.ID}] = e
	db.mu.Unlock()
	return nil
}

func (db *memoryDB) Get(key KUID, vt ValueType) ([]Entity, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []Entity
	for id, e := range db.values {
		if id.key == key && id.vtype == vt {
			out = append(out, e)
		}
	}
	return out, nil
}

func (db *memoryDB) Remove(key KUID, vt ValueType, creator KUID) error {
	db.mu.Lock()
	delete(db.values, entityID{key, vt, creator})
	db.mu.Unlock()
	return nil
}

func (db *memoryDB) Purge(before time.Time) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for id, e := range db.values {
		if e.Created.Before(before) {
			delete(db.values, id)
			n++
		}
	}
	return n, nil
}

func (db *memoryDB) Count() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.values)
}

func (db *memoryDB) Close() error { return nil }
