package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hollowcrest/annocache/internal/auth"
	"github.com/hollowcrest/annocache/internal/clustercache"
	"github.com/hollowcrest/annocache/internal/config"
	"github.com/hollowcrest/annocache/internal/docstore"
	"github.com/hollowcrest/annocache/internal/docstore/boltstore"
	"github.com/hollowcrest/annocache/internal/docstore/memstore"
	"github.com/hollowcrest/annocache/internal/docstore/mongostore"
	"github.com/hollowcrest/annocache/internal/httpapi"
	"github.com/hollowcrest/annocache/internal/lineage"
	"github.com/hollowcrest/annocache/internal/obslog"
	"github.com/hollowcrest/annocache/internal/supervisor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the annotation cache/versioning HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	obslog.Init(obslog.Config{Level: obslog.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open document store (%s): %w", cfg.StorageBackend, err)
	}

	limits := cfg.CacheLimits()
	if !cfg.CacheEnabled {
		// A one-entry, near-zero-TTL cache disables read-through caching in
		// effect without adding a separate code path through the server.
		limits = clustercache.Limits{MaxLength: 1, MaxBytes: 1, TTL: time.Nanosecond}
	}
	cluster, err := clustercache.New(cfg.WorkerCount, limits)
	if err != nil {
		return fmt.Errorf("init cluster cache: %w", err)
	}

	group := supervisor.NewGroup()
	group.Register(clusterComponent{cluster})
	group.Register(supervisor.NewTTLReaper(cluster, clustercache.StatsSyncInterval))

	var verifier *auth.Verifier
	if cfg.JWKSURI != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		verifier, err = auth.NewVerifier(ctx, cfg.AuthConfig())
		cancel()
		if err != nil {
			return fmt.Errorf("init auth verifier: %w", err)
		}
	} else {
		obslog.Warn("JWKS_URI not set: running with X-Debug-Agent dev authentication")
	}

	server := &httpapi.Server{
		Cluster:    cluster,
		Store:      store,
		Writer:     lineage.NewWriter(store, cfg.RerumIDPrefix),
		Verifier:   verifier,
		AdminToken: cfg.AdminToken,
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		obslog.WithComponent("cmd").Info().Str("addr", httpServer.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		obslog.Info("shutting down")
	case err := <-errCh:
		obslog.Errorf("http server error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		obslog.Errorf("graceful shutdown failed", err)
	}
	group.Shutdown()
	if err := store.Close(); err != nil {
		obslog.Errorf("store close failed", err)
	}

	obslog.Info("shutdown complete")
	return nil
}

func openStore(cfg config.Config) (docstore.Store, error) {
	switch cfg.StorageBackend {
	case "mongo":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return mongostore.Connect(ctx, mongostore.Config{
			ConnectionString: cfg.MongoConnectionString,
			Database:         cfg.MongoDatabase,
			Collection:       cfg.MongoCollection,
		})
	case "bolt":
		return boltstore.Open(cfg.BoltDataDir)
	default:
		return memstore.New(), nil
	}
}

// clusterComponent adapts *clustercache.Cluster to supervisor.Component.
type clusterComponent struct {
	cluster *clustercache.Cluster
}

func (c clusterComponent) Name() string { return "clustercache" }
func (c clusterComponent) Stop()        { c.cluster.Close() }
