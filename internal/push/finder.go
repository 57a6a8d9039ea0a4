package push

import (
	"context"

	"github.com/BitTorrentFileSharing/limedht/internal/dht"
	"github.com/BitTorrentFileSharing/limedht/internal/dhtvalue"
	"github.com/BitTorrentFileSharing/limedht/internal/guid"
	"github.com/BitTorrentFileSharing/limedht/internal/logger"
	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("push: endpoint not found")

type Finder interface {
	FindEndpoint(ctx context.Context, g guid.GUID) (*Endpoint, error)
}

// Found is an endpoint together with the node that stored it.
type Found struct {
	Endpoint *Endpoint
	Creator  dht.Contact
}

// DHTFinder looks up PROX values under the GUID's KUID.
type DHTFinder struct {
	client dht.Client
}

func NewDHTFinder(client dht.Client) *DHTFinder { return &DHTFinder{client: client} }

// Lookup returns every well formed PROX value for g. Values naming another
// GUID are dropped.
func (f *DHTFinder) Lookup(ctx context.Context, g guid.GUID) ([]Found, error) {
	key := dht.EntityKey{Key: dht.KUIDFromGUID(g), Type: dhtvalue.PushProxiesType}
	entities, err := f.client.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var out []Found
	for _, e := range entities {
		v, err := dhtvalue.DecodePushProxiesValue(e.Version, e.Data)
		if err != nil {
			logger.Debug("prox_value_invalid", map[string]any{"creator": e.Creator.String(), "err": err.Error()})
			continue
		}
		if v.GUID != g {
			logger.Debug("prox_guid_mismatch", map[string]any{"want": g.String(), "got": v.GUID.String()})
			continue
		}
		out = append(out, Found{Endpoint: FromValue(v, e.Creator.IP()), Creator: e.Creator})
	}
	return out, nil
}

func (f *DHTFinder) FindEndpoint(ctx context.Context, g guid.GUID) (*Endpoint, error) {
	found, err := f.Lookup(ctx, g)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, errors.Wrap(ErrNotFound, g.String())
	}
	return found[0].Endpoint, nil
}
