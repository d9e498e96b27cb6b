package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/joystream/youtube-synch-go/internal/db"
	"github.com/joystream/youtube-synch-go/internal/db/models"
	"github.com/joystream/youtube-synch-go/internal/metrics"
	"github.com/joystream/youtube-synch-go/internal/sync/tasks"
)

// estimatedBytesPerSecond sizes the budget reservation before the real byte
// count is known; the reservation is corrected after the download.
const estimatedBytesPerSecond = 1 << 20

// MediaDownloader fetches one video's media bytes.
type MediaDownloader interface {
	Download(ctx context.Context, videoID, destPath string) (*DownloadResult, error)
}

// ThumbnailFetcher fetches one thumbnail image.
type ThumbnailFetcher interface {
	Fetch(ctx context.Context, url, destPath string) error
}

// VideoStore is the video-table slice the download stage consumes.
type VideoStore interface {
	Get(ctx context.Context, channelID, videoID string) (*models.Video, error)
	GetAllUnsyncedVideos(ctx context.Context) ([]*models.Video, error)
	TransitionState(ctx context.Context, channelID, videoID string, to models.VideoState, mutate func(*models.Video)) error
	SetMediaSize(ctx context.Context, channelID, videoID string, size int64) error
	IncrementRetryCount(ctx context.Context, channelID, videoID string) error
}

// Worker is the download stage.
type Worker struct {
	videos     VideoStore
	media      MediaDownloader
	thumbnails ThumbnailFetcher
	assets     *AssetDirectory

	downloads tasks.Queue // consumed
	creations tasks.Queue // produced: videos without a chain record
	uploads   tasks.Queue // produced: UploadFailed retries

	parallelism *semaphore.Weighted
	channelMu   sync.Mutex
	channels    map[string]*sync.Mutex

	log     *zap.Logger
	metrics *metrics.Metrics
}

// New creates the download worker. maxParallel bounds concurrent downloads
// across channels; within a channel downloads are strictly serial.
func New(videos VideoStore, media MediaDownloader, thumbnails ThumbnailFetcher, assets *AssetDirectory,
	downloads, creations, uploads tasks.Queue, maxParallel int, log *zap.Logger, m *metrics.Metrics) *Worker {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		videos:      videos,
		media:       media,
		thumbnails:  thumbnails,
		assets:      assets,
		downloads:   downloads,
		creations:   creations,
		uploads:     uploads,
		parallelism: semaphore.NewWeighted(int64(maxParallel)),
		channels:    make(map[string]*sync.Mutex),
		log:         log,
		metrics:     m,
	}
}

// EnqueueUnsynced plans a round of download work: every unsynced video's key
// is published to the download queue. Stale or duplicate keys are harmless
// because the worker re-reads the record before acting.
func (w *Worker) EnqueueUnsynced(ctx context.Context) (int, error) {
	unsynced, err := w.videos.GetAllUnsyncedVideos(ctx)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, video := range unsynced {
		msg := tasks.NewMessage(tasks.VideoKey{ChannelID: video.ChannelID, VideoID: video.VideoID})
		if err := w.downloads.Publish(ctx, msg); err != nil {
			return enqueued, err
		}
		enqueued++
	}
	return enqueued, nil
}

// Run consumes the download queue until it is closed and drained.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for msg := range w.downloads.Messages() {
		if ctx.Err() != nil {
			break
		}
		if err := w.parallelism.Acquire(ctx, 1); err != nil {
			break
		}

		wg.Add(1)
		go func(msg tasks.Message) {
			defer wg.Done()
			defer w.parallelism.Release(1)
			w.process(ctx, msg.Key)
		}(msg)
	}
	wg.Wait()
}

func (w *Worker) process(ctx context.Context, key tasks.VideoKey) {
	video, err := w.videos.Get(ctx, key.ChannelID, key.VideoID)
	if err != nil {
		if !db.IsNotFound(err) {
			w.log.Error("read video before download", zap.String("video", key.VideoID), zap.Error(err))
		}
		return
	}

	switch video.State {
	case models.StateNew:
		if !video.IsDownloadable() {
			return
		}
	case models.StateVideoCreationFailed, models.StateUploadFailed:
		// Failure states re-enter the pipeline unconditionally.
	default:
		return
	}

	// One download at a time per channel keeps publication order stable.
	unlock := w.lockChannel(key.ChannelID)
	defer unlock()

	size, err := w.stage(ctx, video)
	if err != nil {
		w.handleFailure(ctx, video, err)
		return
	}

	if err := w.videos.SetMediaSize(ctx, key.ChannelID, key.VideoID, size); err != nil {
		w.log.Error("record media size", zap.String("video", key.VideoID), zap.Error(err))
		return
	}
	if w.metrics != nil {
		w.metrics.DownloadedBytes.Add(float64(size))
	}

	next := w.creations
	if video.State == models.StateUploadFailed {
		next = w.uploads
	}
	msg := tasks.NewMessage(key)
	if err := next.Publish(ctx, msg); err != nil && !errors.Is(err, tasks.ErrQueueClosed) {
		w.log.Error("route staged video", zap.String("video", key.VideoID), zap.Error(err))
	}
}

// stage downloads media and thumbnail into the asset directory, returning
// the media byte size. Already-staged media is reused.
func (w *Worker) stage(ctx context.Context, video *models.Video) (int64, error) {
	mediaPath := w.assets.MediaPath(video.VideoID)

	var size int64
	if info, err := os.Stat(mediaPath); err == nil && info.Size() > 0 {
		size = info.Size()
	} else {
		estimate := int64(video.DurationSeconds) * estimatedBytesPerSecond
		if estimate <= 0 {
			estimate = estimatedBytesPerSecond
		}
		if !w.assets.Reserve(estimate) {
			return 0, fmt.Errorf("asset directory full (%d bytes used)", w.assets.Used())
		}

		result, err := w.downloadWithRetry(ctx, video.VideoID, mediaPath)
		if err != nil {
			w.assets.Adjust(estimate, 0)
			return 0, err
		}
		w.assets.Adjust(estimate, result.Size)
		size = result.Size
	}

	thumbPath := w.assets.ThumbnailPath(video.VideoID)
	if _, err := os.Stat(thumbPath); err != nil && video.ThumbnailURL != "" {
		if err := w.thumbnails.Fetch(ctx, video.ThumbnailURL, thumbPath); err != nil {
			return 0, fmt.Errorf("fetch thumbnail: %w", err)
		}
	}

	return size, nil
}

// downloadWithRetry retries transient failures with exponential backoff;
// terminal failures surface immediately.
func (w *Worker) downloadWithRetry(ctx context.Context, videoID, destPath string) (*DownloadResult, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Second
	policy.MaxElapsedTime = 10 * time.Minute

	var result *DownloadResult
	operation := func() error {
		r, err := w.media.Download(ctx, videoID, destPath)
		if err != nil {
			if errors.Is(err, ErrVideoUnavailable) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = r
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

func (w *Worker) handleFailure(ctx context.Context, video *models.Video, err error) {
	if errors.Is(err, ErrVideoUnavailable) && !video.State.HasChainRecord() {
		w.log.Info("video gone upstream, marking unavailable",
			zap.String("video", video.VideoID), zap.Error(err))
		terr := w.videos.TransitionState(ctx, video.ChannelID, video.VideoID, models.StateVideoUnavailable, nil)
		if terr != nil {
			w.log.Error("mark video unavailable", zap.String("video", video.VideoID), zap.Error(terr))
			return
		}
		if w.metrics != nil {
			w.metrics.StateTransitions.WithLabelValues(string(models.StateVideoUnavailable)).Inc()
		}
		return
	}

	w.log.Warn("download failed, will retry next cycle",
		zap.String("video", video.VideoID), zap.Error(err))
	if rerr := w.videos.IncrementRetryCount(ctx, video.ChannelID, video.VideoID); rerr != nil {
		w.log.Error("bump retry count", zap.String("video", video.VideoID), zap.Error(rerr))
	}
}

func (w *Worker) lockChannel(channelID string) func() {
	w.channelMu.Lock()
	lock, ok := w.channels[channelID]
	if !ok {
		lock = &sync.Mutex{}
		w.channels[channelID] = lock
	}
	w.channelMu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// HTTPThumbnailFetcher fetches thumbnails over plain HTTP.
type HTTPThumbnailFetcher struct {
	Client *http.Client
}

// NewHTTPThumbnailFetcher creates a fetcher with a bounded timeout.
func NewHTTPThumbnailFetcher(timeout time.Duration) *HTTPThumbnailFetcher {
	return &HTTPThumbnailFetcher{Client: &http.Client{Timeout: timeout}}
}

func (f *HTTPThumbnailFetcher) Fetch(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build thumbnail request: %w", err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return fmt.Errorf("thumbnail transport: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("thumbnail fetch: unexpected status %d", resp.StatusCode)
	}

	file, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create thumbnail file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, resp.Body); err != nil {
		os.Remove(destPath)
		return fmt.Errorf("write thumbnail: %w", err)
	}
	return nil
}
