package dht

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/BitTorrentFileSharing/limedht/internal/logger"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

type lookupResult struct {
	entities []Entity
	closest  []Contact // responsive contacts, nearest first
}

// lookup walks towards key, alpha queries at a time, collecting values of
// type vt on the way. Values are deduplicated by creator.
func (node *Node) lookup(ctx context.Context, key KUID, vt ValueType) (lookupResult, error) {
	var res lookupResult
	byCreator := make(map[KUID]Entity)
	collect := func(e Entity) {
		if old, ok := byCreator[e.Creator.ID]; !ok || e.Created.After(old.Created) {
			byCreator[e.Creator.ID] = e
		}
	}

	if local, err := node.DB.Get(key, vt); err == nil {
		for _, e := range local {
			collect(e)
		}
	}

	shortlist := node.RoutingTable.Closest(key, node.cfg.K)
	queried := make(map[KUID]bool)
	var responded []Contact

	for round := 0; round < node.cfg.MaxRounds; round++ {
		var batch []Contact
		for _, c := range shortlist {
			if !queried[c.ID] && len(batch) < node.cfg.Alpha {
				batch = append(batch, c)
			}
		}
		if len(batch) == 0 {
			break
		}

		var (
			g  errgroup.Group
			mu sync.Mutex
		)
		g.SetLimit(node.cfg.Alpha)
		found := shortlist
		for _, c := range batch {
			queried[c.ID] = true
			g.Go(func() error {
				reply, err := node.request(ctx, c.Addr, Msg{T: msgFindValue, Key: key.String(), VType: string(vt)})
				if err != nil {
					if ctx.Err() == nil {
						node.RoutingTable.Remove(c.ID)
					}
					logger.Debug("lookup_no_reply", map[string]any{"peer": c.Addr.String(), "err": err.Error()})
					return nil
				}
				mu.Lock()
				defer mu.Unlock()
				responded = append(responded, c)
				for _, me := range reply.Entities {
					e, err := fromMsgEntity(me)
					if err != nil || e.Key != key || e.Type != vt {
						continue
					}
					collect(e)
				}
				for _, p := range fromMsgPeers(reply.DHTPeers) {
					if p.ID != node.ID {
						found = append(found, p)
					}
				}
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return res, err
		}

		shortlist = dedupContacts(found)
		sortByDistance(shortlist, key)
		if len(shortlist) > node.cfg.K {
			shortlist = shortlist[:node.cfg.K]
		}
	}

	for _, e := range byCreator {
		res.entities = append(res.entities, e)
	}
	res.closest = dedupContacts(responded)
	sortByDistance(res.closest, key)
	return res, nil
}

func dedupContacts(in []Contact) []Contact {
	seen := map[KUID]struct{}{}
	out := make([]Contact, 0, len(in))
	for _, c := range in {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Get looks up every value stored under key.
func (node *Node) Get(ctx context.Context, key EntityKey) ([]Entity, error) {
	res, err := node.lookup(ctx, key.Key, key.Type)
	if err != nil {
		return nil, err
	}
	logger.Log("dht_get", map[string]any{"key": key.Key.String(), "type": string(key.Type), "values": len(res.entities)})
	return res.entities, nil
}

// Put stores value on the K closest responsive nodes and returns how many
// acknowledged it.
func (node *Node) Put(ctx context.Context, key KUID, value Value) (int, error) {
	data, err := value.Bytes()
	if err != nil {
		return 0, errors.Wrap(err, "encode value")
	}
	if len(data) > maxValueSize {
		return 0, errors.Errorf("dht: value of %d bytes", len(data))
	}
	res, err := node.lookup(ctx, key, value.Type())
	if err != nil {
		return 0, err
	}
	targets := res.closest
	if len(targets) > node.cfg.K {
		targets = targets[:node.cfg.K]
	}
	if len(targets) == 0 {
		return 0, ErrNoPeers
	}

	store := Msg{T: msgStore, Entities: []MsgEntity{{
		Key:     key.String(),
		Type:    string(value.Type()),
		Version: value.Version(),
		Value:   data,
	}}}

	var (
		g    errgroup.Group
		acks atomic.Int32
	)
	g.SetLimit(node.cfg.Alpha)
	for _, c := range targets {
		g.Go(func() error {
			if _, err := node.request(ctx, c.Addr, store); err != nil {
				logger.Debug("store_failed", map[string]any{"peer": c.Addr.String(), "err": err.Error()})
				return nil
			}
			acks.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return int(acks.Load()), err
	}

	logger.Log("dht_put", map[string]any{
		"key":    key.String(),
		"type":   string(value.Type()),
		"acks":   acks.Load(),
		"target": len(targets),
	})
	if acks.Load() == 0 {
		return 0, errors.Errorf("dht: no node stored %s", key)
	}
	return int(acks.Load()), nil
}
