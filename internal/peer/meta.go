package peer

import (
	"context"
	"net"
	"time"

	"github.com/BitTorrentFileSharing/limedht/internal/guid"
	"github.com/BitTorrentFileSharing/limedht/internal/metainfo"
	"github.com/BitTorrentFileSharing/limedht/internal/protocol"
	"github.com/BitTorrentFileSharing/limedht/internal/urn"
	"github.com/pkg/errors"
)

// FetchMeta asks addr for the descriptor of u. The descriptor must name u.
func FetchMeta(ctx context.Context, addr string, u urn.URN, id guid.GUID) (*metainfo.Meta, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	deadline := time.Now().Add(10 * time.Second)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	hs := protocol.NewHandshake(u, id)
	if err := hs.Encode(conn); err != nil {
		return nil, err
	}
	for {
		msg, err := protocol.Decode(conn)
		if err != nil {
			return nil, errors.Wrapf(err, "meta from %s", addr)
		}
		if msg.ID != protocol.MsgMeta {
			continue
		}
		meta, err := protocol.ParseMeta(msg)
		if err != nil {
			return nil, err
		}
		if meta.URN != u {
			return nil, errors.Wrapf(protocol.ErrBadMessage, "meta for %s, want %s", meta.URN, u)
		}
		return meta, nil
	}
}
