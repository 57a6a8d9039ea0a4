package dht

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// levelDB keeps stored values across restarts.
// Row key: KUID | value type | 0x00 | creator KUID. Row value: JSON MsgEntity.
type levelDB struct {
	db *leveldb.DB
}

func OpenLevelDatabase(path string) (Database, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open value database %s", path)
	}
	return &levelDB{db: db}, nil
}

func rowPrefix(key KUID, vt ValueType) []byte {
	p := make([]byte, 0, IDLen*2+len(vt)+1)
	p = append(p, key[:]...)
	p = append(p, vt...)
	return append(p, 0)
}

func rowKey(key KUID, vt ValueType, creator KUID) []byte {
	return append(rowPrefix(key, vt), creator[:]...)
}

func (l *levelDB) Store(e Entity) error {
	data, err := json.Marshal(toMsgEntity(e))
	if err != nil {
		return err
	}
	return l.db.Put(rowKey(e.Key, e.Type, e.Creator.ID), data, nil)
}

func (l *levelDB) Get(key KUID, vt ValueType) ([]Entity, error) {
	it := l.db.NewIterator(util.BytesPrefix(rowPrefix(key, vt)), nil)
	defer it.Release()
	var out []Entity
	for it.Next() {
		e, err := decodeRow(it.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, it.Error()
}

func (l *levelDB) Remove(key KUID, vt ValueType, creator KUID) error {
	return l.db.Delete(rowKey(key, vt, creator), nil)
}

func (l *levelDB) Purge(before time.Time) (int, error) {
	it := l.db.NewIterator(nil, nil)
	batch := new(leveldb.Batch)
	for it.Next() {
		e, err := decodeRow(it.Value())
		if err != nil || e.Created.Before(before) {
			// Unreadable rows go too
			batch.Delete(it.Key())
		}
	}
	it.Release()
	if err := it.Error(); err != nil {
		return 0, err
	}
	if batch.Len() == 0 {
		return 0, nil
	}
	return batch.Len(), l.db.Write(batch, nil)
}

func (l *levelDB) Count() int {
	it := l.db.NewIterator(nil, nil)
	defer it.Release()
	n := 0
	for it.Next() {
		n++
	}
	return n
}

func (l *levelDB) Close() error { return l.db.Close() }

func decodeRow(b []byte) (Entity, error) {
	var m MsgEntity
	if err := json.Unmarshal(b, &m); err != nil {
		return Entity{}, errors.Wrap(err, "decode stored value")
	}
	return fromMsgEntity(m)
}
