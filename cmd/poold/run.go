// Copyright 2026 The rclonepool Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/puffious/rclone-pool/internal/httpauth"
	"github.com/puffious/rclone-pool/internal/rest"
	"github.com/puffious/rclone-pool/internal/webdav"
	"github.com/puffious/rclone-pool/pkg/balancer"
	"github.com/puffious/rclone-pool/pkg/blobclient"
	"github.com/puffious/rclone-pool/pkg/blobclient/fsclient"
	"github.com/puffious/rclone-pool/pkg/chunkcache"
	"github.com/puffious/rclone-pool/pkg/config"
	"github.com/puffious/rclone-pool/pkg/dedup"
	"github.com/puffious/rclone-pool/pkg/log"
	"github.com/puffious/rclone-pool/pkg/manifest"
	"github.com/puffious/rclone-pool/pkg/manifestcache"
	"github.com/puffious/rclone-pool/pkg/plugin"
	"github.com/puffious/rclone-pool/pkg/pool"
	"github.com/puffious/rclone-pool/pkg/prefetcher"
	"github.com/puffious/rclone-pool/pkg/rebalancer"
	"github.com/puffious/rclone-pool/pkg/redundancy"
	"github.com/puffious/rclone-pool/pkg/throttler"
	"github.com/puffious/rclone-pool/pkg/verifier"
)

// dedupCacheEntries bounds the in-memory content-hash index; it is not
// yet exposed as a config knob.
const dedupCacheEntries = 100_000

// Run wires every component from cfg and serves the WebDAV and REST
// frontends until ctx is cancelled, then shuts both down and flushes
// the manifest cache.
func Run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	root := log.Root(log.Mode(cfg.LogMode), level, nil)
	lg := log.New(root, "poold")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := fsclient.New(cfg.LocalStoreDir, cfg.Remotes)
	if err != nil {
		return err
	}
	var blob blobclient.Client = blobclient.WithRetry(client, blobclient.DefaultRetryPolicy(), log.New(root, "blobclient"))

	bal := balancer.New(blob, cfg.Remotes, balancer.Strategy(cfg.BalancingStrategy), log.New(root, "balancer"))
	bal.Refresh(ctx)

	mcache, err := manifestcache.Open(cfg.CacheDir, log.New(root, "manifestcache"))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := mcache.Close(); cerr != nil {
			lg.Error().Err(cerr).Msg("flushing manifest cache on shutdown")
		}
	}()

	store := manifest.NewStore(blob, cfg.Remotes, cfg.ManifestPrefix, mcache, log.New(root, "manifest"))

	ccache, err := chunkcache.Open(cfg.CacheDir, cfg.ChunkCacheBytes, log.New(root, "chunkcache"))
	if err != nil {
		return err
	}

	var redund *redundancy.Redundancy
	if cfg.RedundancyMode != config.RedundancyNone {
		redund = redundancy.New(blob, bal, redundancy.Config{
			Mode:              redundancy.Mode(cfg.RedundancyMode),
			ReplicationFactor: cfg.ReplicationFactor,
			ParityDataShards:  cfg.ParityDataShards,
			ParityShards:      cfg.ParityShards,
			ParityPrefix:      cfg.ParityPrefix,
		}, log.New(root, "redundancy"))
	}

	throttle := throttler.New(cfg.BandwidthLimitUploadMbps*125_000, cfg.BandwidthLimitDownloadMbps*125_000)
	hooks := plugin.New(log.New(root, "plugin"))
	dedupIndex := dedup.New(dedupCacheEntries)
	prefetch := prefetcher.New(blob, ccache, cfg.MaxParallelWorkers, log.New(root, "prefetcher"))
	defer prefetch.Stop()

	engine := pool.New(pool.Deps{
		Client:             blob,
		Remotes:            cfg.Remotes,
		DataPrefix:         cfg.DataPrefix,
		ChunkSize:          cfg.ChunkSize,
		Balancer:           bal,
		Store:              store,
		Redundancy:         redund,
		Throttler:          throttle,
		Hooks:              hooks,
		Dedup:              dedupIndex,
		Cache:              ccache,
		Prefetcher:         prefetch,
		Compress:           cfg.EnableCompression,
		MaxParallelWorkers: cfg.MaxParallelWorkers,
		ParallelUploads:    cfg.ParallelUploads,
		Log:                log.New(root, "pool"),
	})

	verify := verifier.New(blob, store, cfg.DataPrefix, log.New(root, "verifier"))
	rebal := rebalancer.New(blob, bal, store, log.New(root, "rebalancer"))

	auth := httpauth.New(cfg)
	davHandler := webdav.New(engine, auth, cfg.TempDir, log.New(root, "webdav"))
	restHandler := rest.New(engine, verify, rebal, auth, cfg, log.New(root, "rest"))

	davSrv := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.WebDAVHost, cfg.WebDAVPort), Handler: davHandler}
	restSrv := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.APIServerHost, cfg.APIServerPort), Handler: restHandler}

	errs := make(chan error, 2)
	go func() { errs <- serve(davSrv, "webdav", lg) }()
	go func() { errs <- serve(restSrv, "rest", lg) }()

	select {
	case <-ctx.Done():
		lg.Info().Msg("shutting down")
	case err := <-errs:
		if err != nil {
			lg.Error().Err(err).Msg("server exited")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = davSrv.Shutdown(shutdownCtx)
	_ = restSrv.Shutdown(shutdownCtx)

	return nil
}

func serve(srv *http.Server, name string, lg zerolog.Logger) error {
	lg.Info().Str("addr", srv.Addr).Str("server", name).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
