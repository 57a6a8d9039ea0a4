package app

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/BitTorrentFileSharing/limedht/internal/altloc"
	"github.com/BitTorrentFileSharing/limedht/internal/dht"
	"github.com/BitTorrentFileSharing/limedht/internal/guid"
	"github.com/BitTorrentFileSharing/limedht/internal/logger"
	"github.com/BitTorrentFileSharing/limedht/internal/publish"
	"github.com/BitTorrentFileSharing/limedht/internal/push"
	"github.com/BitTorrentFileSharing/limedht/internal/settings"
	"github.com/BitTorrentFileSharing/limedht/internal/storage"
)

// Firewall-to-firewall transfer version we advertise when firewalled.
const fwtVersion = 1

// Node is one running client: the DHT node, the transfer listener, the
// shared library and the publishers keeping our values in the DHT.
type Node struct {
	GUID      guid.GUID
	DHT       *dht.Node
	Library   *storage.Library
	AltLocs   *altloc.Manager
	Finder    *altloc.Finder
	Endpoints *push.Manager
	Settings  settings.DHT

	cfg       *Config
	ln        net.Listener
	queue     *publish.Queue
	altLocPub *publish.Publisher
	proxyPub  *publish.Publisher

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Start opens the DHT and TCP sockets, bootstraps and launches the
// background loops. They stop on Close.
func Start(ctx context.Context, cfg *Config, s settings.DHT) (*Node, error) {
	s = s.Validate()

	dcfg := dht.DefaultConfig()
	dcfg.Listen = cfg.DHTListen
	dcfg.ValueExpiration = s.ValueExpiration
	if cfg.DBDir != "" {
		db, err := dht.OpenLevelDatabase(cfg.DBDir)
		if err != nil {
			return nil, err
		}
		dcfg.DB = db
	}
	dhtNode, err := dht.New(dcfg)
	if err != nil {
		if dcfg.DB != nil {
			dcfg.DB.Close()
		}
		return nil, err
	}
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		dhtNode.Close()
		return nil, err
	}

	n := &Node{
		GUID:     guid.New(),
		DHT:      dhtNode,
		Library:  storage.NewLibrary(),
		AltLocs:  altloc.NewManager(),
		Settings: s,
		cfg:      cfg,
		ln:       ln,
		queue:    publish.NewQueue(dhtNode, s.MaxParallelStores, s.StoresPerSecond),
	}
	n.Endpoints = push.NewManager(push.NewDHTFinder(dhtNode), s.PushEndpointCacheTime, s.PushEndpointPurgeFrequency)
	n.Finder = altloc.NewFinder(dhtNode, n.AltLocs, n.Endpoints, s)
	n.altLocPub = publish.NewPublisher("altlocs", dhtNode, n.queue,
		publish.NewAltLocSource(n.Library, n.HostInfo),
		s.LocationPublisherFrequency, s.PublishLocationEvery)
	n.altLocPub.SetEnabled(s.PublishAltLocs)
	// The source decides when proxies are due, so every offer is stored.
	n.proxyPub = publish.NewPublisher("proxies", dhtNode, n.queue,
		publish.NewPushProxiesSource(n.HostInfo, s.StableProxiesTime, s.PublishProxiesTime, s.ProxyChangeThreshold),
		s.ProxyPublisherFrequency, 0)
	n.proxyPub.SetEnabled(s.PublishPushProxies)

	logger.Log("node_started", map[string]any{
		"guid": n.GUID.String(),
		"tcp":  ln.Addr().String(),
		"udp":  dhtNode.Addr().String(),
	})

	if boot := cfg.Bootstrap(); len(boot) > 0 {
		bctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		dhtNode.Bootstrap(bctx, boot)
		cancel()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.spawn(func() { n.serve() })
	n.spawn(func() { n.altLocPub.Run(runCtx) })
	n.spawn(func() { n.proxyPub.Run(runCtx) })
	n.spawn(func() { n.Endpoints.Run(runCtx) })
	return n, nil
}

func (n *Node) spawn(fn func()) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		fn()
	}()
}

// TCPAddr is the bound transfer listener address.
func (n *Node) TCPAddr() *net.TCPAddr { return n.ln.Addr().(*net.TCPAddr) }

// HostInfo describes us to the value sources.
func (n *Node) HostInfo() publish.HostInfo {
	info := publish.HostInfo{
		GUID:       n.GUID,
		Port:       uint16(n.TCPAddr().Port),
		Firewalled: n.cfg.Firewalled,
		TLS:        n.cfg.TLS,
	}
	if info.Firewalled {
		info.FWTVersion = fwtVersion
		info.Proxies, _ = n.cfg.Proxies()
	}
	return info
}

// PublishNow runs one round of both publishers without waiting for the
// next tick and returns how many stores were queued.
func (n *Node) PublishNow() int {
	now := time.Now()
	return n.altLocPub.Publish(now) + n.proxyPub.Publish(now)
}

func (n *Node) Close() error {
	n.cancel()
	n.queue.Close()
	err := n.ln.Close()
	n.wg.Wait()
	if dhtErr := n.DHT.Close(); err == nil {
		err = dhtErr
	}
	logger.Log("node_stopped", map[string]any{"guid": n.GUID.String()})
	return err
}
