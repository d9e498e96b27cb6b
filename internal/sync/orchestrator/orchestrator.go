// Package orchestrator owns the top-level scheduling loop: it runs the poll
// cycle, routes work between the stages, probes the storage fleet, resets
// the daily quota, and drains everything on shutdown.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/joystream/youtube-synch-go/internal/db/models"
	"github.com/joystream/youtube-synch-go/internal/metrics"
	"github.com/joystream/youtube-synch-go/internal/sync/quota"
	"github.com/joystream/youtube-synch-go/internal/sync/tasks"
)

// ChannelSource lists the channels to poll this cycle.
type ChannelSource interface {
	EligibleChannels(ctx context.Context) ([]*models.Channel, error)
}

// Poller is the metadata poll stage surface.
type Poller interface {
	PollCycle(ctx context.Context, channels []*models.Channel) error
}

// Downloader is the download stage surface.
type Downloader interface {
	Run(ctx context.Context)
	EnqueueUnsynced(ctx context.Context) (int, error)
}

// Creator is the on-chain creation stage surface.
type Creator interface {
	Run(ctx context.Context)
	ClearHalts()
}

// Uploader is the upload stage surface.
type Uploader interface {
	Run(ctx context.Context)
	EnqueuePending(ctx context.Context) (int, error)
	ProbeBuckets(ctx context.Context) error
}

// QuotaResetter is the accountant slice the scheduler drives.
type QuotaResetter interface {
	Reset()
	NextResetIn() time.Duration
	Usage(pool string) (used, capacity int)
}

// Config holds the orchestrator's schedule.
type Config struct {
	PollInterval  time.Duration
	ProbeInterval time.Duration
	DrainGrace    time.Duration
}

// Orchestrator wires the stages together.
type Orchestrator struct {
	cfg        Config
	channels   ChannelSource
	poller     Poller
	downloader Downloader
	creator    Creator
	uploader   Uploader
	quota      QuotaResetter

	downloads tasks.Queue
	creations tasks.Queue
	uploads   tasks.Queue

	log     *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	draining bool
}

// New creates an orchestrator.
func New(cfg Config, channels ChannelSource, p Poller, d Downloader, c Creator, u Uploader,
	q QuotaResetter, downloads, creations, uploads tasks.Queue, log *zap.Logger, m *metrics.Metrics) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Minute
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 10 * time.Minute
	}
	if cfg.DrainGrace <= 0 {
		cfg.DrainGrace = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		cfg:        cfg,
		channels:   channels,
		poller:     p,
		downloader: d,
		creator:    c,
		uploader:   u,
		quota:      q,
		downloads:  downloads,
		creations:  creations,
		uploads:    uploads,
		log:        log,
		metrics:    m,
	}
}

// Run starts the stage workers and the scheduling loop, blocking until ctx
// is cancelled and the pipeline has drained.
func (o *Orchestrator) Run(ctx context.Context) {
	// Stage workers get a context that outlives ctx: they stop when their
	// queue closes during the drain, not when the scheduler stops.
	workerCtx := context.Background()

	var downloaderDone, creatorDone, uploaderDone sync.WaitGroup

	downloaderDone.Add(1)
	go func() {
		defer downloaderDone.Done()
		o.downloader.Run(workerCtx)
	}()

	creatorDone.Add(1)
	go func() {
		defer creatorDone.Done()
		o.creator.Run(workerCtx)
	}()

	uploaderDone.Add(1)
	go func() {
		defer uploaderDone.Done()
		o.uploader.Run(workerCtx)
	}()

	o.schedule(ctx)

	o.drain(&uploaderDone, &creatorDone, &downloaderDone)
}

// schedule runs the periodic tasks until ctx is cancelled. The first poll
// cycle starts immediately.
func (o *Orchestrator) schedule(ctx context.Context) {
	pollTicker := time.NewTicker(o.cfg.PollInterval)
	defer pollTicker.Stop()
	probeTicker := time.NewTicker(o.cfg.ProbeInterval)
	defer probeTicker.Stop()
	resetTimer := time.NewTimer(o.quota.NextResetIn())
	defer resetTimer.Stop()

	o.pollCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			o.pollCycle(ctx)
		case <-probeTicker.C:
			if err := o.uploader.ProbeBuckets(ctx); err != nil {
				o.log.Warn("storage probe cycle failed", zap.Error(err))
			}
		case <-resetTimer.C:
			o.quota.Reset()
			resetTimer.Reset(o.quota.NextResetIn())
		}
	}
}

// pollCycle runs one full scheduling round: refresh channels, reconcile
// metadata, then plan download and upload work.
func (o *Orchestrator) pollCycle(ctx context.Context) {
	if o.isDraining() {
		return
	}

	start := time.Now()

	// A fresh cycle means fresh channel data; voucher-limit halts from the
	// previous cycle may have been resolved.
	o.creator.ClearHalts()

	channels, err := o.channels.EligibleChannels(ctx)
	if err != nil {
		o.log.Error("list eligible channels", zap.Error(err))
		return
	}

	if err := o.poller.PollCycle(ctx, channels); err != nil {
		// Quota exhaustion lands here: the cycle stops, the process lives.
		o.log.Warn("poll cycle aborted", zap.Error(err))
	}

	downloads, err := o.downloader.EnqueueUnsynced(ctx)
	if err != nil {
		o.log.Error("plan download work", zap.Error(err))
	}

	uploads, err := o.uploader.EnqueuePending(ctx)
	if err != nil {
		o.log.Error("plan upload work", zap.Error(err))
	}

	o.observe(time.Since(start))
	o.log.Info("scheduling round complete",
		zap.Int("channels", len(channels)),
		zap.Int("downloadsPlanned", downloads),
		zap.Int("uploadsPlanned", uploads),
		zap.Duration("took", time.Since(start)),
	)
}

func (o *Orchestrator) observe(took time.Duration) {
	if o.metrics == nil {
		return
	}
	o.metrics.PollCycleDuration.Observe(took.Seconds())
	for _, pool := range []string{quota.PoolSync, quota.PoolSignup} {
		used, _ := o.quota.Usage(pool)
		o.metrics.QuotaUsed.WithLabelValues(pool).Set(float64(used))
	}
	o.metrics.QueueDepth.WithLabelValues("download").Set(float64(o.downloads.Depth()))
	o.metrics.QueueDepth.WithLabelValues("create").Set(float64(o.creations.Depth()))
	o.metrics.QueueDepth.WithLabelValues("upload").Set(float64(o.uploads.Depth()))
}

func (o *Orchestrator) isDraining() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.draining
}

// drain closes the stage queues in reverse pipeline order (UP, OC, DL) and
// waits for each worker up to the grace period. State transitions are only
// written after external acknowledgement, so abandoning a stage is safe.
func (o *Orchestrator) drain(uploaderDone, creatorDone, downloaderDone *sync.WaitGroup) {
	o.mu.Lock()
	o.draining = true
	o.mu.Unlock()

	o.log.Info("draining pipeline", zap.Duration("grace", o.cfg.DrainGrace))

	stages := []struct {
		name  string
		queue tasks.Queue
		done  *sync.WaitGroup
	}{
		{"uploader", o.uploads, uploaderDone},
		{"creator", o.creations, creatorDone},
		{"downloader", o.downloads, downloaderDone},
	}

	for _, stage := range stages {
		if err := stage.queue.Close(); err != nil {
			o.log.Warn("close stage queue", zap.String("stage", stage.name), zap.Error(err))
		}
		if !waitWithTimeout(stage.done, o.cfg.DrainGrace) {
			o.log.Warn("stage did not drain within grace, abandoning",
				zap.String("stage", stage.name))
		}
	}

	o.log.Info("pipeline drained")
}

func waitWithTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
