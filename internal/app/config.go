// CLI Flags parsed here

package app

import (
	"flag"
	"net/netip"
	"strings"
	"time"

	"github.com/BitTorrentFileSharing/limedht/internal/dhtvalue"
	"github.com/BitTorrentFileSharing/limedht/internal/urn"
	"github.com/pkg/errors"
)

type Config struct {
	SharesCSV      string
	GetURN         string
	MetaPath       string
	Listen         string
	DestDir        string
	DHTListen      string
	BootstrapCSV   string
	DBDir          string
	Firewalled     bool
	ProxiesCSV     string
	TLS            bool
	KeepSeedingSec int
	Debug          bool
}

func ParseFlags(args []string) (*Config, error) {
	var c Config
	fs := flag.NewFlagSet("limedht", flag.ContinueOnError)
	fs.StringVar(&c.SharesCSV, "share", "", "comma-separated files to share")
	fs.StringVar(&c.GetURN, "get", "", "urn:sha1 of the file to download")
	fs.StringVar(&c.MetaPath, "meta", "", "optional .bit descriptor of the download")
	fs.StringVar(&c.Listen, "addr", ":6346", "TCP listen addr for transfers")
	fs.StringVar(&c.DestDir, "dest", ".", "download output dir")
	fs.StringVar(&c.DHTListen, "dht-listen", ":0", "UDP addr for DHT")
	fs.StringVar(&c.BootstrapCSV, "bootstrap", "", "comma-separated UDP bootstrap nodes")
	fs.StringVar(&c.DBDir, "db", "", "LevelDB directory for stored values (memory if empty)")
	fs.BoolVar(&c.Firewalled, "firewalled", false, "advertise as firewalled, reachable through -proxies")
	fs.StringVar(&c.ProxiesCSV, "proxies", "", "comma-separated push proxies ip:port")
	fs.BoolVar(&c.TLS, "tls", false, "advertise TLS support")
	fs.IntVar(&c.KeepSeedingSec, "keep", 0, "seconds to keep seeding after complete (0 = until interrupted when sharing)")
	fs.BoolVar(&c.Debug, "debug", false, "log debug events")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return &c, c.Validate()
}

func splitCSV(csv string) []string {
	var out []string
	for s := range strings.SplitSeq(csv, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) Shares() []string    { return splitCSV(c.SharesCSV) }
func (c *Config) Bootstrap() []string { return splitCSV(c.BootstrapCSV) }

func (c *Config) Proxies() ([]dhtvalue.Proxy, error) {
	var out []dhtvalue.Proxy
	for _, s := range splitCSV(c.ProxiesCSV) {
		ap, err := netip.ParseAddrPort(s)
		if err != nil {
			return nil, errors.Wrapf(err, "proxy %q", s)
		}
		out = append(out, dhtvalue.Proxy{Addr: ap, TLS: c.TLS})
	}
	if len(out) > dhtvalue.MaxProxies {
		out = out[:dhtvalue.MaxProxies]
	}
	return out, nil
}

func (c *Config) Target() (urn.URN, error) { return urn.Parse(c.GetURN) }

func (c *Config) Keep() time.Duration { return time.Duration(c.KeepSeedingSec) * time.Second }

func (c *Config) Validate() error {
	if c.GetURN == "" && len(c.Shares()) == 0 {
		return errors.New("use -share FILE or -get URN")
	}
	if c.GetURN != "" {
		if _, err := c.Target(); err != nil {
			return err
		}
	}
	if c.DHTListen == "" {
		return errors.New("-dht-listen must not be empty")
	}
	if _, err := c.Proxies(); err != nil {
		return err
	}
	if c.Firewalled && c.ProxiesCSV == "" {
		return errors.New("-firewalled needs -proxies")
	}
	return nil
}
