// Package creator implements the on-chain creation stage: videos with bytes
// staged locally get their createVideo extrinsic submitted, and the outcome
// drives the state machine.
package creator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/joystream/youtube-synch-go/internal/db"
	"github.com/joystream/youtube-synch-go/internal/db/models"
	"github.com/joystream/youtube-synch-go/internal/metrics"
	"github.com/joystream/youtube-synch-go/internal/service/runtime"
	"github.com/joystream/youtube-synch-go/internal/sync/downloader"
	"github.com/joystream/youtube-synch-go/internal/sync/tasks"
)

// TxSubmitter submits createVideo extrinsics. The runtime client serializes
// submissions per collaborator account underneath.
type TxSubmitter interface {
	SubmitCreateVideo(ctx context.Context, intent runtime.CreateVideoIntent) (runtime.SubmitOutcome, error)
}

// VideoStore is the video-table slice the creation stage consumes.
type VideoStore interface {
	Get(ctx context.Context, channelID, videoID string) (*models.Video, error)
	TransitionState(ctx context.Context, channelID, videoID string, to models.VideoState, mutate func(*models.Video)) error
}

// Worker is the on-chain creation stage. It runs single-file: the signer is
// sequential anyway, and one in-flight extrinsic keeps nonce handling
// trivial.
type Worker struct {
	videos       VideoStore
	chain        TxSubmitter
	assets       *downloader.AssetDirectory
	collaborator string

	creations tasks.Queue // consumed
	uploads   tasks.Queue // produced

	mu     sync.Mutex
	halted map[string]struct{} // channels stopped by VoucherSizeLimitExceeded

	log     *zap.Logger
	metrics *metrics.Metrics
}

// New creates the creation worker.
func New(videos VideoStore, chain TxSubmitter, assets *downloader.AssetDirectory, collaborator string,
	creations, uploads tasks.Queue, log *zap.Logger, m *metrics.Metrics) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		videos:       videos,
		chain:        chain,
		assets:       assets,
		collaborator: collaborator,
		creations:    creations,
		uploads:      uploads,
		halted:       make(map[string]struct{}),
		log:          log,
		metrics:      m,
	}
}

// Run consumes the creation queue until it is closed and drained.
func (w *Worker) Run(ctx context.Context) {
	for msg := range w.creations.Messages() {
		if ctx.Err() != nil {
			return
		}
		w.process(ctx, msg.Key)
	}
}

// ClearHalts lifts every voucher-limit halt. The orchestrator calls this on
// each channel refresh cycle, when a raised voucher may have taken effect.
func (w *Worker) ClearHalts() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.halted = make(map[string]struct{})
}

// HaltedChannels lists channels currently stopped by a voucher limit.
func (w *Worker) HaltedChannels() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]string, 0, len(w.halted))
	for ch := range w.halted {
		out = append(out, ch)
	}
	return out
}

func (w *Worker) isHalted(channelID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.halted[channelID]
	return ok
}

func (w *Worker) halt(channelID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.halted[channelID] = struct{}{}
}

func (w *Worker) process(ctx context.Context, key tasks.VideoKey) {
	if w.isHalted(key.ChannelID) {
		return
	}

	video, err := w.videos.Get(ctx, key.ChannelID, key.VideoID)
	if err != nil {
		if !db.IsNotFound(err) {
			w.log.Error("read video before creation", zap.String("video", key.VideoID), zap.Error(err))
		}
		return
	}

	switch video.State {
	case models.StateNew, models.StateVideoCreationFailed:
	default:
		return
	}

	intent, err := w.buildIntent(video)
	if err != nil {
		w.log.Error("assemble createVideo intent", zap.String("video", key.VideoID), zap.Error(err))
		return
	}

	outcome, err := w.chain.SubmitCreateVideo(ctx, *intent)
	if err != nil {
		// Transport failure; state untouched, the next cycle retries.
		w.log.Warn("createVideo submission failed",
			zap.String("video", key.VideoID), zap.Error(err))
		return
	}

	switch o := outcome.(type) {
	case runtime.Finalized:
		w.handleFinalized(ctx, video, o)
	case runtime.Failed:
		w.handleFailed(ctx, video, o)
	case runtime.Rejected:
		// SignCancelled: retriable without any state change.
		w.log.Warn("createVideo rejected before execution",
			zap.String("video", key.VideoID), zap.Error(o.Err))
	}
}

func (w *Worker) handleFinalized(ctx context.Context, video *models.Video, finalized runtime.Finalized) {
	result, err := runtime.ExtractCreateVideoResult(finalized)
	if err != nil {
		// Finalized without the required events: fatal for this attempt.
		w.log.Error("createVideo finalized without required events",
			zap.String("video", video.VideoID), zap.Error(err))
		w.markCreationFailed(ctx, video)
		return
	}

	err = w.videos.TransitionState(ctx, video.ChannelID, video.VideoID, models.StateVideoCreated,
		func(v *models.Video) {
			v.JoystreamVideo = &models.JoystreamVideo{ID: result.VideoID, AssetIDs: result.AssetIDs}
		})
	if err != nil {
		w.log.Error("record on-chain video",
			zap.String("video", video.VideoID),
			zap.Int64("joystreamVideo", result.VideoID),
			zap.Error(err))
		return
	}

	if w.metrics != nil {
		w.metrics.StateTransitions.WithLabelValues(string(models.StateVideoCreated)).Inc()
	}
	w.log.Info("on-chain video created",
		zap.String("video", video.VideoID),
		zap.Int64("joystreamVideo", result.VideoID),
		zap.Strings("assets", result.AssetIDs),
	)

	msg := tasks.NewMessage(tasks.VideoKey{ChannelID: video.ChannelID, VideoID: video.VideoID})
	if err := w.uploads.Publish(ctx, msg); err != nil {
		w.log.Error("route created video to uploader",
			zap.String("video", video.VideoID), zap.Error(err))
	}
}

func (w *Worker) handleFailed(ctx context.Context, video *models.Video, failed runtime.Failed) {
	if failed.Kind == runtime.DispatchVoucherSizeLimitExceeded {
		// Channel-level condition: stop creating for this channel until the
		// next refresh. The video keeps its state.
		w.log.Warn("voucher size limit reached, halting channel",
			zap.String("channel", video.ChannelID),
			zap.String("video", video.VideoID))
		w.halt(video.ChannelID)
		return
	}

	w.log.Error("createVideo extrinsic failed",
		zap.String("video", video.VideoID),
		zap.String("kind", failed.Kind),
		zap.String("msg", failed.Msg))
	w.markCreationFailed(ctx, video)
}

func (w *Worker) markCreationFailed(ctx context.Context, video *models.Video) {
	err := w.videos.TransitionState(ctx, video.ChannelID, video.VideoID, models.StateVideoCreationFailed, nil)
	if err != nil {
		w.log.Error("mark creation failed", zap.String("video", video.VideoID), zap.Error(err))
		return
	}
	if w.metrics != nil {
		w.metrics.StateTransitions.WithLabelValues(string(models.StateVideoCreationFailed)).Inc()
	}
}

// buildIntent assembles the extrinsic input from the record and the staged
// assets.
func (w *Worker) buildIntent(video *models.Video) (*runtime.CreateVideoIntent, error) {
	mediaPath := w.assets.MediaPath(video.VideoID)
	mediaSize, mediaHash, err := fileDigest(mediaPath)
	if err != nil {
		return nil, fmt.Errorf("media not staged: %w", err)
	}

	thumbPath := w.assets.ThumbnailPath(video.VideoID)
	thumbSize, thumbHash, err := fileDigest(thumbPath)
	if err != nil {
		return nil, fmt.Errorf("thumbnail not staged: %w", err)
	}

	return &runtime.CreateVideoIntent{
		ChannelID:                video.JoystreamChannelID,
		CollaboratorID:           w.collaborator,
		Title:                    video.Title,
		Description:              video.Description,
		Language:                 video.Language,
		Category:                 video.Category,
		PublishedBeforeJoystream: video.PublishedAt,
		MediaSize:                mediaSize,
		MediaHash:                mediaHash,
		ThumbnailSize:            thumbSize,
		ThumbnailHash:            thumbHash,
	}, nil
}

func fileDigest(path string) (int64, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer file.Close()

	hasher := sha256.New()
	size, err := io.Copy(hasher, file)
	if err != nil {
		return 0, "", err
	}
	return size, hex.EncodeToString(hasher.Sum(nil)), nil
}
