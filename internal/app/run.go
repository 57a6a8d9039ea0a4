package app

import (
	"context"
	"time"

	"github.com/BitTorrentFileSharing/limedht/internal/logger"
	"github.com/BitTorrentFileSharing/limedht/internal/metainfo"
	"github.com/BitTorrentFileSharing/limedht/internal/settings"
)

// Run shares, downloads and seeds as cfg asks until ctx is done.
func Run(ctx context.Context, cfg *Config) error {
	n, err := Start(ctx, cfg, settings.Defaults())
	if err != nil {
		return err
	}
	defer n.Close()

	for _, path := range cfg.Shares() {
		if _, err := n.Share(path); err != nil {
			return err
		}
	}
	n.PublishNow()

	if cfg.GetURN != "" {
		u, _ := cfg.Target()
		var meta *metainfo.Meta
		if cfg.MetaPath != "" {
			if meta, err = metainfo.Load(cfg.MetaPath); err != nil {
				return err
			}
		}
		out, err := n.Download(ctx, u, meta, cfg.DestDir)
		if err != nil {
			return err
		}
		logger.Log("download_done", map[string]any{"file": out, "urn": u.String()})
		n.PublishNow()

		if cfg.KeepSeedingSec > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(cfg.Keep()):
			}
		}
		return nil
	}

	// Sharing only: seed until interrupted.
	<-ctx.Done()
	return nil
}
