// Package uploader implements the upload stage: videos with on-chain
// records get their staged assets dispatched to the storage fleet.
package uploader

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/joystream/youtube-synch-go/internal/db"
	"github.com/joystream/youtube-synch-go/internal/db/models"
	"github.com/joystream/youtube-synch-go/internal/metrics"
	"github.com/joystream/youtube-synch-go/internal/service/querynode"
	"github.com/joystream/youtube-synch-go/internal/service/storagenode"
	"github.com/joystream/youtube-synch-go/internal/sync/downloader"
	"github.com/joystream/youtube-synch-go/internal/sync/tasks"
)

// VideoStore is the video-table slice the upload stage consumes.
type VideoStore interface {
	Get(ctx context.Context, channelID, videoID string) (*models.Video, error)
	GetAllVideosInPendingUploadState(ctx context.Context, limit int) ([]*models.Video, error)
	TransitionState(ctx context.Context, channelID, videoID string, to models.VideoState, mutate func(*models.Video)) error
}

// ChannelStore is the channel-table slice the upload stage consumes.
type ChannelStore interface {
	GetByChannelID(ctx context.Context, channelID string) (*models.Channel, error)
	AddHistoricalSyncedSize(ctx context.Context, channelID string, delta int64) error
}

// BucketDirectory resolves the storage fleet's capacity view.
type BucketDirectory interface {
	StorageBucketsWithCapacity(ctx context.Context) ([]querynode.StorageBucket, error)
}

// AssetUploader dispatches one asset against ranked candidates.
type AssetUploader interface {
	UploadToBuckets(ctx context.Context, buckets []storagenode.Bucket, ranking *storagenode.Ranking, req storagenode.UploadRequest) (string, error)
	Probe(ctx context.Context, bucket storagenode.Bucket, ranking *storagenode.Ranking)
}

// Worker is the upload stage.
type Worker struct {
	videos   VideoStore
	channels ChannelStore
	buckets  BucketDirectory
	client   AssetUploader
	ranking  *storagenode.Ranking
	assets   *downloader.AssetDirectory

	uploads     tasks.Queue // consumed
	parallelism *semaphore.Weighted
	batchLimit  int

	log     *zap.Logger
	metrics *metrics.Metrics
}

// New creates the upload worker. batchLimit caps one planning round's
// pending-set size; maxParallel bounds concurrent uploads.
func New(videos VideoStore, channels ChannelStore, buckets BucketDirectory, client AssetUploader,
	ranking *storagenode.Ranking, assets *downloader.AssetDirectory, uploads tasks.Queue,
	batchLimit, maxParallel int, log *zap.Logger, m *metrics.Metrics) *Worker {
	if batchLimit <= 0 {
		batchLimit = 50
	}
	if maxParallel <= 0 {
		maxParallel = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		videos:      videos,
		channels:    channels,
		buckets:     buckets,
		client:      client,
		ranking:     ranking,
		assets:      assets,
		uploads:     uploads,
		parallelism: semaphore.NewWeighted(int64(maxParallel)),
		batchLimit:  batchLimit,
		log:         log,
		metrics:     m,
	}
}

// EnqueuePending plans a round of upload work: UploadFailed retries first,
// then fresh VideoCreated records, preserving updatedAt order within each
// bucket.
func (w *Worker) EnqueuePending(ctx context.Context) (int, error) {
	pending, err := w.videos.GetAllVideosInPendingUploadState(ctx, w.batchLimit)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, video := range pending {
		msg := tasks.NewMessage(tasks.VideoKey{ChannelID: video.ChannelID, VideoID: video.VideoID})
		if err := w.uploads.Publish(ctx, msg); err != nil {
			return enqueued, err
		}
		enqueued++
	}
	return enqueued, nil
}

// Run consumes the upload queue until it is closed and drained.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for msg := range w.uploads.Messages() {
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

// ProbeBuckets measures every active bucket's response time, refreshing the
// ranking's tertiary key.
func (w *Worker) ProbeBuckets(ctx context.Context) error {
	candidates, err := w.candidates(ctx)
	if err != nil {
		return err
	}

	for _, bucket := range candidates {
		w.client.Probe(ctx, bucket, w.ranking)
		if w.metrics != nil {
			if latency, ok := w.ranking.Latency(bucket.ID); ok {
				w.metrics.StorageNodeProbe.WithLabelValues(bucket.ID).Set(latency.Seconds())
			}
		}
	}
	return nil
}

func (w *Worker) process(ctx context.Context, key tasks.VideoKey) {
	video, err := w.videos.Get(ctx, key.ChannelID, key.VideoID)
	if err != nil {
		if !db.IsNotFound(err) {
			w.log.Error("read video before upload", zap.String("video", key.VideoID), zap.Error(err))
		}
		return
	}

	switch video.State {
	case models.StateVideoCreated, models.StateUploadFailed:
	default:
		return
	}
	if video.JoystreamVideo == nil || len(video.JoystreamVideo.AssetIDs) != 2 {
		w.log.Error("video pending upload without chain record", zap.String("video", key.VideoID))
		return
	}

	candidates, err := w.candidates(ctx)
	if err != nil {
		w.log.Warn("resolve storage buckets", zap.String("video", key.VideoID), zap.Error(err))
		return
	}

	if err := w.uploadAssets(ctx, video, candidates); err != nil {
		w.log.Warn("upload failed", zap.String("video", key.VideoID), zap.Error(err))
		w.markUploadFailed(ctx, video)
		return
	}

	w.complete(ctx, video)
}

// uploadAssets sends media then thumbnail against the ranked candidates.
func (w *Worker) uploadAssets(ctx context.Context, video *models.Video, candidates []storagenode.Bucket) error {
	bagID := channelBagID(video.JoystreamChannelID)

	mediaRequest := storagenode.UploadRequest{
		BagID:        bagID,
		DataObjectID: video.JoystreamVideo.AssetIDs[0],
		FilePath:     w.assets.MediaPath(video.VideoID),
	}
	if _, err := w.client.UploadToBuckets(ctx, candidates, w.ranking, mediaRequest); err != nil {
		return fmt.Errorf("media object: %w", err)
	}

	thumbRequest := storagenode.UploadRequest{
		BagID:        bagID,
		DataObjectID: video.JoystreamVideo.AssetIDs[1],
		FilePath:     w.assets.ThumbnailPath(video.VideoID),
	}
	if _, err := w.client.UploadToBuckets(ctx, candidates, w.ranking, thumbRequest); err != nil {
		return fmt.Errorf("thumbnail object: %w", err)
	}

	return nil
}

func (w *Worker) complete(ctx context.Context, video *models.Video) {
	mediaSize := video.MediaSize

	err := w.videos.TransitionState(ctx, video.ChannelID, video.VideoID, models.StateUploadSucceeded, nil)
	if err != nil {
		w.log.Error("mark upload succeeded", zap.String("video", video.VideoID), zap.Error(err))
		return
	}
	if w.metrics != nil {
		w.metrics.StateTransitions.WithLabelValues(string(models.StateUploadSucceeded)).Inc()
		w.metrics.UploadedBytes.Add(float64(mediaSize))
	}

	channel, err := w.channels.GetByChannelID(ctx, video.ChannelID)
	if err != nil {
		w.log.Error("resolve channel for accounting", zap.String("channel", video.ChannelID), zap.Error(err))
	} else if video.IsHistorical(channel.CreatedAt) {
		if err := w.channels.AddHistoricalSyncedSize(ctx, video.ChannelID, mediaSize); err != nil {
			w.log.Error("bump historical synced size", zap.String("channel", video.ChannelID), zap.Error(err))
		}
	}

	// Staged bytes are no longer needed once the fleet accepted them.
	w.assets.Remove(video.VideoID)

	w.log.Info("video fully synced",
		zap.String("video", video.VideoID),
		zap.Int64("joystreamVideo", video.JoystreamVideo.ID),
		zap.Int64("bytes", mediaSize),
	)
}

func (w *Worker) markUploadFailed(ctx context.Context, video *models.Video) {
	if video.State == models.StateUploadFailed {
		return
	}
	err := w.videos.TransitionState(ctx, video.ChannelID, video.VideoID, models.StateUploadFailed, nil)
	if err != nil {
		w.log.Error("mark upload failed", zap.String("video", video.VideoID), zap.Error(err))
		return
	}
	if w.metrics != nil {
		w.metrics.StateTransitions.WithLabelValues(string(models.StateUploadFailed)).Inc()
	}
}

func (w *Worker) candidates(ctx context.Context) ([]storagenode.Bucket, error) {
	buckets, err := w.buckets.StorageBucketsWithCapacity(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]storagenode.Bucket, 0, len(buckets))
	for _, b := range buckets {
		if b.Endpoint == "" {
			continue
		}
		candidates = append(candidates, storagenode.Bucket{
			ID:          b.ID,
			Endpoint:    b.Endpoint,
			FreeSize:    b.FreeSize(),
			FreeObjects: b.FreeObjects(),
		})
	}
	if len(candidates) == 0 {
		return nil, storagenode.ErrNoActiveStorageProvider
	}
	return candidates, nil
}

// channelBagID is the storage bag owning a channel's data objects.
func channelBagID(joystreamChannelID int64) string {
	return "dynamic:channel:" + strconv.FormatInt(joystreamChannelID, 10)
}
