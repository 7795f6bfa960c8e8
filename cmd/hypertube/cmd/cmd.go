// Package cmd wires hypertube's components into a running process: the
// cobra root command owns flag parsing, config.Load, and construction of
// every store, manager, and the HTTP server, in the dependency order
// dictated by what each one needs. Grounded on tracker/cmd/cmd.go's
// shape (persistent flags, configutil.Load, log/metrics bootstrap,
// bottom-up component construction, a blocking ListenAndServe).
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/angelasoler/hypertube/auth"
	"github.com/angelasoler/hypertube/cache"
	"github.com/angelasoler/hypertube/config"
	"github.com/angelasoler/hypertube/core"
	"github.com/angelasoler/hypertube/httpapi"
	"github.com/angelasoler/hypertube/job"
	"github.com/angelasoler/hypertube/metrics"
	"github.com/angelasoler/hypertube/queue"
	"github.com/angelasoler/hypertube/storage/localdb"
	"github.com/angelasoler/hypertube/streaming"
	"github.com/angelasoler/hypertube/subtitle"
	"github.com/angelasoler/hypertube/torrent/trackerclient"
	"github.com/angelasoler/hypertube/transcode"
	"github.com/angelasoler/hypertube/utils/log"
)

var (
	configFile string
	addr       string

	rootCmd = &cobra.Command{
		Short: "hypertube serves on-demand P2P video acquisition and progressive streaming.",
		Run: func(cmd *cobra.Command, args []string) {
			run()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "configuration file path")
	rootCmd.PersistentFlags().StringVarP(&addr, "addr", "", "", "override httpapi.addr from config")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() {
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hypertube: %s\n", err)
		os.Exit(1)
	}
	if addr != "" {
		cfg.HTTPAPI.Addr = addr
	}

	zl, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	log.Configure(zl.Sugar())

	stats, closer, err := metrics.New(cfg.Metrics)
	if err != nil {
		log.Fatalf("hypertube: init metrics: %s", err)
	}
	defer closer.Close()

	for _, dir := range []string{cfg.BasePath, cfg.TempPath, cfg.SubtitlePath} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("hypertube: create %s: %s", dir, err)
		}
	}

	db, err := localdb.New(cfg.Storage)
	if err != nil {
		log.Fatalf("hypertube: open database: %s", err)
	}

	jobStore := job.NewStore(db)
	queueStore := queue.NewStore(db)
	cacheStore := cache.NewStore(db)
	subtitleStore := subtitle.NewStore(db)

	queueMgr := queue.NewManager(cfg.Queue, stats, queueStore)
	jobMgr := job.NewManager(jobStore, queueMgr)
	cacheMgr := cache.NewManager(cfg.Cache, stats, cacheStore)
	defer cacheMgr.Close()
	subtitleMgr := subtitle.NewManager(cfg.SubtitlePath, subtitleStore)
	transcodeGateway := transcode.NewFFmpegGateway(cfg.Transcode)

	torrentDir := filepath.Join(cfg.BasePath, "torrents")
	if err := os.MkdirAll(torrentDir, 0o755); err != nil {
		log.Fatalf("hypertube: create %s: %s", torrentDir, err)
	}
	torrentSource := NewFileTorrentSource(torrentDir)

	peerID, err := core.GenerateLocalPeerID()
	if err != nil {
		log.Fatalf("hypertube: generate peer id: %s", err)
	}
	registry := newSchedulerRegistry()

	dlWorker := &downloadWorker{
		jobs:     jobMgr,
		queue:    queueMgr,
		source:   torrentSource,
		registry: registry,
		tracker:  trackerclient.New(),
		peerID:   peerID,
		schedCfg: cfg.Scheduler,
		tempDir:  cfg.TempPath,
	}
	convWorker := &conversionWorker{
		jobs:      jobMgr,
		cache:     cacheMgr,
		transcode: transcodeGateway,
		source:    torrentSource,
		tempDir:   cfg.TempPath,
		basePath:  cfg.BasePath,
	}

	if err := queueMgr.Register(queue.DownloadQueue, dlWorker.handle); err != nil {
		log.Fatalf("hypertube: register download queue: %s", err)
	}
	if err := queueMgr.Register(queue.ConversionQueue, convWorker.handle); err != nil {
		log.Fatalf("hypertube: register conversion queue: %s", err)
	}

	incomplete, err := jobStore.ListIncomplete()
	if err != nil {
		log.Fatalf("hypertube: list incomplete jobs: %s", err)
	}
	jobMgr.ResumeIncomplete(incomplete)

	streamingHandler := streaming.NewHandler(cfg.Streaming, jobMgr, cacheMgr, registry)

	verifier := auth.NewVerifier(cfg.Auth.Verifier)
	authMW := auth.Middleware(verifier, auth.MiddlewareConfig{
		AllowedPaths:  cfg.Auth.AllowedPaths,
		IdentityLimit: cfg.Auth.IdentityLimit,
		SourceIPLimit: cfg.Auth.SourceIPLimit,
	})

	server := httpapi.New(cfg.HTTPAPI, stats, jobMgr, subtitleMgr, cacheMgr, streamingHandler, authMW)

	go func() {
		log.Fatalf("hypertube: httpapi: %s", server.ListenAndServe())
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Infof("hypertube: shutting down")
}
