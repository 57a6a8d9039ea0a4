// UDP message

package dht

import (
	"encoding/hex"
	"encoding/json"
	"net"
	"time"

	"github.com/BitTorrentFileSharing/limedht/internal/logger"
	"github.com/pkg/errors"
)

const (
	msgPing      = "ping"
	msgPong      = "pong"
	msgStore     = "store"
	msgStored    = "stored"
	msgFindValue = "findValue"
	msgValues    = "values"

	maxPacket = 64 * 1024
)

type Msg struct {
	T        string      `json:"t"`            // ping, pong, store, stored, findValue, values
	ID       string      `json:"id"`           // hex
	Tx       string      `json:"tx,omitempty"` // pairs a reply with its request
	Key      string      `json:"key,omitempty"`
	VType    string      `json:"vt,omitempty"`
	Entities []MsgEntity `json:"entities,omitempty"`
	DHTPeers []MsgPeer   `json:"dht_peers,omitempty"` // list of udp addresses of dht nodes
	Err      string      `json:"err,omitempty"`
}

// Only for messages, I parse it into Contact object later
type MsgPeer struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// Wire and disk form of an Entity
type MsgEntity struct {
	Key         string    `json:"key"`
	Type        string    `json:"type"`
	Version     Version   `json:"version"`
	Creator     string    `json:"creator,omitempty"`
	CreatorAddr string    `json:"creator_addr,omitempty"`
	Value       []byte    `json:"value"`
	Created     time.Time `json:"created"`
}

func isReply(t string) bool {
	return t == msgPong || t == msgStored || t == msgValues
}

func toMsgEntity(e Entity) MsgEntity {
	m := MsgEntity{
		Key:     e.Key.String(),
		Type:    string(e.Type),
		Version: e.Version,
		Creator: e.Creator.ID.String(),
		Value:   e.Data,
		Created: e.Created,
	}
	if e.Creator.Addr != nil {
		m.CreatorAddr = e.Creator.Addr.String()
	}
	return m
}

func fromMsgEntity(m MsgEntity) (Entity, error) {
	key, err := ParseKUID(m.Key)
	if err != nil {
		return Entity{}, err
	}
	if m.Type == "" || len(m.Type) > 8 {
		return Entity{}, errors.Errorf("bad value type %q", m.Type)
	}
	e := Entity{Key: key, Type: ValueType(m.Type), Version: m.Version, Data: m.Value, Created: m.Created}
	if m.Creator != "" {
		if e.Creator.ID, err = ParseKUID(m.Creator); err != nil {
			return Entity{}, err
		}
	}
	if m.CreatorAddr != "" {
		if e.Creator.Addr, err = net.ResolveUDPAddr("udp4", m.CreatorAddr); err != nil {
			return Entity{}, errors.Wrap(err, "creator address")
		}
	}
	return e, nil
}

func toMsgPeers(cs []Contact) []MsgPeer {
	out := make([]MsgPeer, 0, len(cs))
	for _, c := range cs {
		out = append(out, MsgPeer{ID: hex.EncodeToString(c.ID[:]), Addr: c.Addr.String()})
	}
	return out
}

// Bad entries are logged and skipped
func fromMsgPeers(ps []MsgPeer) []Contact {
	out := make([]Contact, 0, len(ps))
	for _, p := range ps {
		id, err := ParseKUID(p.ID)
		if err != nil {
			logger.Log("bad_dht_peer", map[string]any{"err": err.Error()})
			continue
		}
		addr, err := net.ResolveUDPAddr("udp4", p.Addr)
		if err != nil {
			logger.Log("bad_address", map[string]any{"addr": p.Addr, "err": err.Error()})
			continue
		}
		out = append(out, Contact{ID: id, Addr: addr})
	}
	return out
}

// Serializes message and send it via UDP to address
func send(conn *net.UDPConn, addr *net.UDPAddr, m Msg) error {
	data, err := json.Marshal(&m)
	if err != nil {
		return err
	}
	if len(data) > maxPacket {
		return errors.Errorf("message %s too large: %d bytes", m.T, len(data))
	}

	_, err = conn.WriteToUDP(data, addr)
	logger.Debug("udp_send", map[string]any{
		"to":   addr.String(),
		"type": m.T,
		"size": len(data),
	})
	return err
}

// Reads UDP message and attempt to decode it as Msg.
func recv(conn *net.UDPConn, buf []byte) (Msg, *net.UDPAddr, error) {
	var msg Msg

	n, addr, err := conn.ReadFromUDP(buf)
	if err != nil {
		return msg, nil, err
	}

	if n == 0 {
		return msg, addr, errors.New("received empty packet")
	}

	if err = json.Unmarshal(buf[:n], &msg); err != nil {
		return msg, addr, err
	}

	logger.Debug("udp_recv", map[string]any{
		"from": addr.String(),
		"type": msg.T,
		"size": n,
	})

	return msg, addr, nil
}
