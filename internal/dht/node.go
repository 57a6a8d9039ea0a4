package dht

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BitTorrentFileSharing/limedht/internal/logger"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

var (
	ErrClosed  = errors.New("dht: node closed")
	ErrTimeout = errors.New("dht: request timed out")
	ErrNoPeers = errors.New("dht: no peers to store on")
)

const maxValueSize = 4096

type Config struct {
	Listen          string        // UDP address
	K               int           // replication and bucket size
	Alpha           int           // parallel queries per lookup round
	MaxRounds       int           // lookup depth
	Timeout         time.Duration // per request
	ValueExpiration time.Duration
	PurgeEvery      time.Duration
	DB              Database // nil means in memory
}

func DefaultConfig() Config {
	return Config{
		Listen:          ":0",
		K:               kSize,
		Alpha:           3,
		MaxRounds:       8,
		Timeout:         500 * time.Millisecond,
		ValueExpiration: 60 * time.Minute,
		PurgeEvery:      5 * time.Minute,
	}
}

// DHT node with its id, connection and routingTable
type Node struct {
	ID           KUID
	Conn         *net.UDPConn
	RoutingTable *Table
	DB           Database

	cfg          Config
	inbox        chan packet // Channel of incoming UDP messages
	mu           sync.Mutex
	pending      map[string]chan packet // tx -> waiting request
	bootstrapped atomic.Bool
	closed       chan struct{}
	closeOnce    sync.Once
}

type packet struct {
	msg Msg
	adr *net.UDPAddr
}

// Creates and start a new DHT node listening on cfg.Listen.
func New(cfg Config) (*Node, error) {
	def := DefaultConfig()
	if cfg.K <= 0 {
		cfg.K = def.K
	}
	if cfg.Alpha <= 0 {
		cfg.Alpha = def.Alpha
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = def.MaxRounds
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ValueExpiration <= 0 {
		cfg.ValueExpiration = def.ValueExpiration
	}
	if cfg.PurgeEvery <= 0 {
		cfg.PurgeEvery = def.PurgeEvery
	}
	if cfg.DB == nil {
		cfg.DB = NewMemoryDatabase()
	}

	addr, err := net.ResolveUDPAddr("udp4", cfg.Listen)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, err
	}

	id := RandomKUID()
	node := &Node{
		ID:           id,
		Conn:         conn,
		RoutingTable: NewTable(id),
		DB:           cfg.DB,
		cfg:          cfg,
		inbox:        make(chan packet, 32),
		pending:      make(map[string]chan packet),
		closed:       make(chan struct{}),
	}

	logger.Log("dht_started_listening", map[string]any{"addr": conn.LocalAddr().String(), "id": id.String()})

	go node.udpLoop()      // Socket loop
	go node.dispatchLoop() // message handler
	go node.purgeLoop()

	return node, nil
}

// Addr is the bound UDP address.
func (node *Node) Addr() *net.UDPAddr { return node.Conn.LocalAddr().(*net.UDPAddr) }

func (node *Node) Close() error {
	var err error
	node.closeOnce.Do(func() {
		close(node.closed)
		err = node.Conn.Close()
		if dbErr := node.DB.Close(); err == nil {
			err = dbErr
		}
	})
	return err
}

// Single UDP reader goroutine
func (node *Node) udpLoop() {
	buf := make([]byte, maxPacket)
	for {
		msg, adr, err := recv(node.Conn, buf)
		if err != nil {
			select {
			case <-node.closed:
				close(node.inbox)
				return
			default:
			}
			logger.Debug("udp_recv_error", map[string]any{"error": err.Error()})
			continue
		}
		node.inbox <- packet{msg, adr}
	}
}

func (node *Node) dispatchLoop() {
	for p := range node.inbox {
		node.observe(p.msg, p.adr)
		if isReply(p.msg.T) {
			node.deliver(p)
			continue
		}
		node.handle(p.msg, p.adr)
	}
}

// Refresh routing table with sender's node-ID
func (node *Node) observe(msg Msg, adr *net.UDPAddr) {
	if id, err := ParseKUID(msg.ID); err == nil && id != node.ID {
		node.RoutingTable.Update(Contact{ID: id, Addr: adr})
		// Being contacted joins us to the network as well
		node.bootstrapped.Store(true)
	}
	if msg.T == msgPong {
		for _, c := range fromMsgPeers(msg.DHTPeers) {
			node.RoutingTable.Update(c)
		}
	}
}

func (node *Node) deliver(p packet) {
	node.mu.Lock()
	ch, ok := node.pending[p.msg.Tx]
	delete(node.pending, p.msg.Tx)
	node.mu.Unlock()
	if !ok {
		logger.Debug("unsolicited_reply", map[string]any{"from": p.adr.String(), "type": p.msg.T})
		return
	}
	ch <- p
}

func (node *Node) handle(msg Msg, adr *net.UDPAddr) {
	reply := Msg{ID: node.ID.String(), Tx: msg.Tx}

	switch msg.T {
	case msgPing:
		reply.T = msgPong
		reply.DHTPeers = toMsgPeers(node.RoutingTable.Contacts(kSize))

	case msgStore:
		reply.T = msgStored
		if err := node.storeRemote(msg, adr); err != nil {
			reply.Err = err.Error()
			logger.Log("store_rejected", map[string]any{"from": adr.String(), "err": err.Error()})
		}

	case msgFindValue:
		reply.T = msgValues
		key, err := ParseKUID(msg.Key)
		if err != nil {
			reply.Err = err.Error()
			break
		}
		entities, err := node.DB.Get(key, ValueType(msg.VType))
		if err != nil {
			reply.Err = err.Error()
			break
		}
		for _, e := range entities {
			reply.Entities = append(reply.Entities, toMsgEntity(e))
		}
		reply.DHTPeers = toMsgPeers(node.RoutingTable.Closest(key, node.cfg.K))

	default:
		logger.Log("unknown_message", map[string]any{"from": adr.String(), "type": msg.T})
		return
	}

	if err := send(node.Conn, adr, reply); err != nil {
		logger.Log("udp_send_error", map[string]any{"to": adr.String(), "err": err.Error()})
	}
}

// The sender is the creator: its declared ID and the address the datagram came from.
func (node *Node) storeRemote(msg Msg, adr *net.UDPAddr) error {
	if len(msg.Entities) != 1 {
		return errors.Errorf("store carries %d entities", len(msg.Entities))
	}
	e, err := fromMsgEntity(msg.Entities[0])
	if err != nil {
		return err
	}
	if len(e.Data) > maxValueSize {
		return errors.Errorf("value of %d bytes", len(e.Data))
	}
	creator, err := ParseKUID(msg.ID)
	if err != nil {
		return err
	}
	e.Creator = Contact{ID: creator, Addr: adr}
	e.Created = time.Now()
	return node.DB.Store(e)
}

func (node *Node) purgeLoop() {
	ticker := time.NewTicker(node.cfg.PurgeEvery)
	defer ticker.Stop()
	for {
		select {
		case <-node.closed:
			return
		case <-ticker.C:
			n, err := node.DB.Purge(time.Now().Add(-node.cfg.ValueExpiration))
			if err != nil {
				logger.Error("purge_failed", err, nil)
			} else if n > 0 {
				logger.Log("values_purged", map[string]any{"count": n})
			}
		}
	}
}

func newTx() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// request sends msg and waits for the reply carrying the same tx.
func (node *Node) request(ctx context.Context, addr *net.UDPAddr, msg Msg) (Msg, error) {
	msg.ID = node.ID.String()
	msg.Tx = newTx()
	ch := make(chan packet, 1)

	node.mu.Lock()
	node.pending[msg.Tx] = ch
	node.mu.Unlock()
	defer func() {
		node.mu.Lock()
		delete(node.pending, msg.Tx)
		node.mu.Unlock()
	}()

	if err := send(node.Conn, addr, msg); err != nil {
		return Msg{}, err
	}

	timer := time.NewTimer(node.cfg.Timeout)
	defer timer.Stop()
	select {
	case p := <-ch:
		if p.msg.Err != "" {
			return p.msg, errors.Errorf("%s from %s: %s", p.msg.T, addr, p.msg.Err)
		}
		return p.msg, nil
	case <-timer.C:
		return Msg{}, errors.Wrapf(ErrTimeout, "%s to %s", msg.T, addr)
	case <-ctx.Done():
		return Msg{}, ctx.Err()
	case <-node.closed:
		return Msg{}, ErrClosed
	}
}

/// Public Helpers

// Sends a ping message to the given address and waits for the pong.
func (node *Node) Ping(ctx context.Context, addr string) error {
	resolvedAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return err
	}
	_, err = node.request(ctx, resolvedAddr, Msg{T: msgPing})
	return err
}

// Bootstrap pings every address in parallel. The node counts as
// bootstrapped once any of them answered.
func (node *Node) Bootstrap(ctx context.Context, addrs []string) bool {
	var g errgroup.Group
	var answered atomic.Int32
	for _, a := range addrs {
		if a == "" {
			continue
		}
		g.Go(func() error {
			if err := node.Ping(ctx, a); err != nil {
				logger.Log("bootstrap_ping_failed", map[string]any{"addr": a, "err": err.Error()})
				return nil
			}
			answered.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	if answered.Load() > 0 {
		node.bootstrapped.Store(true)
	}
	logger.Log("dht_bootstrap", map[string]any{
		"answered": answered.Load(),
		"contacts": node.RoutingTable.Size(),
	})
	return node.Bootstrapped()
}

func (node *Node) Bootstrapped() bool {
	return node.bootstrapped.Load() && node.RoutingTable.Size() > 0
}
