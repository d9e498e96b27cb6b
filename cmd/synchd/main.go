// Command synchd runs the channel synchronization daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/joystream/youtube-synch-go/internal/config"
	"github.com/joystream/youtube-synch-go/internal/db"
	"github.com/joystream/youtube-synch-go/internal/db/repository"
	"github.com/joystream/youtube-synch-go/internal/httpapi"
	"github.com/joystream/youtube-synch-go/internal/metrics"
	"github.com/joystream/youtube-synch-go/internal/registry"
	"github.com/joystream/youtube-synch-go/internal/service/querynode"
	"github.com/joystream/youtube-synch-go/internal/service/runtime"
	"github.com/joystream/youtube-synch-go/internal/service/storagenode"
	"github.com/joystream/youtube-synch-go/internal/service/youtube"
	"github.com/joystream/youtube-synch-go/internal/sync/creator"
	"github.com/joystream/youtube-synch-go/internal/sync/downloader"
	"github.com/joystream/youtube-synch-go/internal/sync/orchestrator"
	"github.com/joystream/youtube-synch-go/internal/sync/poller"
	"github.com/joystream/youtube-synch-go/internal/sync/quota"
	"github.com/joystream/youtube-synch-go/internal/sync/tasks"
	"github.com/joystream/youtube-synch-go/internal/sync/uploader"
	"github.com/joystream/youtube-synch-go/pkg/logger"
)

const (
	stageQueueCapacity = 1024
	uploadTimeout      = 30 * time.Minute
	thumbnailTimeout   = 30 * time.Second
	drainGrace         = 60 * time.Second
)

func main() {
	configPath := flag.String("configPath", "", "path to the configuration document")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Log

	if err := run(cfg, log); err != nil {
		log.Error("daemon failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect state store: %w", err)
	}
	defer pool.Close()
	log.Info("state store connected")

	channelRepo := repository.NewChannelRepository(pool)
	videoRepo := repository.NewVideoRepository(pool)
	whitelistRepo := repository.NewWhitelistRepository(pool)

	m := metrics.New()
	quotaManager := quota.NewManager(cfg.Limits.DailyAPIQuota.Sync, cfg.Limits.DailyAPIQuota.Signup,
		logger.Named("quota"))

	storageLimit, err := cfg.StorageLimitBytes()
	if err != nil {
		return err
	}
	assets, err := downloader.NewAssetDirectory(cfg.Directories.Assets, storageLimit)
	if err != nil {
		return fmt.Errorf("prepare asset directory: %w", err)
	}

	downloadsQ, creationsQ, uploadsQ, err := buildQueues(cfg, log)
	if err != nil {
		return err
	}

	youtubeClient, err := youtube.NewClient(cfg.Youtube)
	if err != nil {
		return fmt.Errorf("create youtube client: %w", err)
	}

	signer, err := runtime.NewSeedSigner(cfg.Joystream.App.AccountSeed)
	if err != nil {
		return fmt.Errorf("create extrinsic signer: %w", err)
	}
	chain := runtime.NewClient(cfg.Endpoints.JoystreamNodeWs, signer, logger.Named("runtime"))
	defer chain.Close()

	queryNode := querynode.NewClient(cfg.Endpoints.QueryNode, logger.Named("querynode"))
	storageClient := storagenode.NewClient(uploadTimeout, logger.Named("storagenode"))
	ranking := storagenode.NewRanking()

	view := registry.NewView(channelRepo)
	pollWorker := poller.New(youtubeClient, quotaManager, channelRepo, videoRepo, 1,
		logger.Named("poller"), m)
	downloadWorker := downloader.New(videoRepo, downloader.NewYtdlpDownloader(),
		downloader.NewHTTPThumbnailFetcher(thumbnailTimeout), assets,
		downloadsQ, creationsQ, uploadsQ, cfg.Limits.MaxConcurrentDownloads,
		logger.Named("downloader"), m)
	createWorker := creator.New(videoRepo, chain, assets, cfg.Joystream.ChannelCollaborator.Account,
		creationsQ, uploadsQ, logger.Named("creator"), m)
	uploadWorker := uploader.New(videoRepo, channelRepo, queryNode, storageClient, ranking, assets,
		uploadsQ, cfg.Limits.MaxConcurrentUploads, cfg.Limits.MaxConcurrentUploads,
		logger.Named("uploader"), m)

	o := orchestrator.New(orchestrator.Config{
		PollInterval:  cfg.PollingInterval(),
		ProbeInterval: cfg.StorageProbeInterval(),
		DrainGrace:    drainGrace,
	}, view, pollWorker, downloadWorker, createWorker, uploadWorker, quotaManager,
		downloadsQ, creationsQ, uploadsQ, logger.Named("orchestrator"), m)

	ops := httpapi.NewServer(cfg.HTTPApi, channelRepo, videoRepo, whitelistRepo, quotaManager, m,
		logger.Named("httpapi"))

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- ops.Start()
	}()

	orchestratorDone := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(orchestratorDone)
	}()

	log.Info("sync daemon started",
		zap.Duration("pollInterval", cfg.PollingInterval()),
		zap.Int("syncQuota", cfg.Limits.DailyAPIQuota.Sync),
	)

	select {
	case err := <-httpErr:
		stop()
		<-orchestratorDone
		if err != nil {
			return fmt.Errorf("ops http server: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
		<-orchestratorDone

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := ops.Shutdown(shutdownCtx); err != nil {
			log.Warn("ops http shutdown", zap.Error(err))
		}
	}

	log.Info("sync daemon stopped cleanly")
	return nil
}

// buildQueues wires the stage queues against the broker when one is
// configured, falling back to in-process queues otherwise.
func buildQueues(cfg *config.Config, log *zap.Logger) (downloads, creations, uploads tasks.Queue, err error) {
	if cfg.Endpoints.AMQP == "" {
		log.Info("no broker configured, using in-process stage queues")
		return tasks.NewMemoryQueue(stageQueueCapacity),
			tasks.NewMemoryQueue(stageQueueCapacity),
			tasks.NewMemoryQueue(stageQueueCapacity), nil
	}

	downloads, err = tasks.NewAMQPQueue(cfg.Endpoints.AMQP, tasks.StageDownload, logger.Named("queue"))
	if err != nil {
		return nil, nil, nil, err
	}
	creations, err = tasks.NewAMQPQueue(cfg.Endpoints.AMQP, tasks.StageCreate, logger.Named("queue"))
	if err != nil {
		return nil, nil, nil, err
	}
	uploads, err = tasks.NewAMQPQueue(cfg.Endpoints.AMQP, tasks.StageUpload, logger.Named("queue"))
	if err != nil {
		return nil, nil, nil, err
	}
	return downloads, creations, uploads, nil
}
