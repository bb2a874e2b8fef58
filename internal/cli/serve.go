package cli

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/thinkbrief/thinkbrief/internal/cache"
	"github.com/thinkbrief/thinkbrief/internal/history"
	"github.com/thinkbrief/thinkbrief/internal/identity"
	"github.com/thinkbrief/thinkbrief/internal/inference"
	"github.com/thinkbrief/thinkbrief/internal/server"
)

// Execute implements the go-flags Commander interface for ServeCommand.
func (c *ServeCommand) Execute(args []string) error {
	cfg, err := loadConfig(c.globals)
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if c.LogLevel != "" {
		level = c.LogLevel
	}
	setupLogging(level, c.globals != nil && c.globals.Verbose)

	host := cfg.Server.Host
	if c.Host != "" {
		host = c.Host
	}
	port := cfg.Server.Port
	if c.Port != 0 {
		port = c.Port
	}

	store, archive, db, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	defer store.Close()
	defer archive.Close()

	var mirror *cache.Mirror
	var svcMirror history.Mirror
	if cfg.Cache.Enabled {
		cachePath, err := cfg.CachePath()
		if err != nil {
			return err
		}
		mirror, err = cache.Open(cachePath, cfg.Cache.MaxRecords)
		if err != nil {
			return fmt.Errorf("open cache mirror: %w", err)
		}
		defer mirror.Close()
		svcMirror = mirror
	}

	svc := history.NewService(store, archive, svcMirror)

	srv := server.New(server.Options{
		Service:        svc,
		Mirror:         mirror,
		Identity:       identity.NewClient(cfg.Identity.BaseURL, time.Duration(cfg.Identity.TimeoutSeconds)*time.Second),
		Inference:      inference.NewClient(cfg.Inference.BaseURL, time.Duration(cfg.Inference.TimeoutSeconds)*time.Second),
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})

	addr := fmt.Sprintf("%s:%d", host, port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("daemon listening", "addr", addr, "version", c.version)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
