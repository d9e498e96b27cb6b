// Package poller implements the metadata poll stage: for each eligible
// channel it reconciles the upstream uploads playlist into the state store.
package poller

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joystream/youtube-synch-go/internal/db"
	"github.com/joystream/youtube-synch-go/internal/db/models"
	"github.com/joystream/youtube-synch-go/internal/metrics"
	"github.com/joystream/youtube-synch-go/internal/service/youtube"
	"github.com/joystream/youtube-synch-go/internal/sync/quota"
)

// MetadataSource lists a channel's uploads and reports the quota units the
// walk consumed. One unit of the sync quota pool is reserved before each
// call; units beyond that one are charged after the call returns.
type MetadataSource interface {
	ListUploads(ctx context.Context, channel *models.Channel) ([]*youtube.VideoMetadata, int, error)
}

// QuotaReserver is the accountant slice the poller consumes.
type QuotaReserver interface {
	Reserve(pool string, n int) bool
}

// ChannelStore is the channel-table slice the poller mutates.
type ChannelStore interface {
	SetYppStatus(ctx context.Context, channelID string, status models.ChannelYppStatus) error
}

// VideoStore is the video-table slice the poller reconciles into.
type VideoStore interface {
	Get(ctx context.Context, channelID, videoID string) (*models.Video, error)
	BatchUpsert(ctx context.Context, videos []*models.Video) error
	ListByChannel(ctx context.Context, channelID string) ([]*models.Video, error)
	TransitionState(ctx context.Context, channelID, videoID string, to models.VideoState, mutate func(*models.Video)) error
}

// Poller is the metadata poll stage.
type Poller struct {
	source   MetadataSource
	quota    QuotaReserver
	channels ChannelStore
	videos   VideoStore
	fanOut   int
	log      *zap.Logger
	metrics  *metrics.Metrics
}

// New creates a poller. fanOut bounds concurrent channel polls; the default
// of 1 keeps quota consumption predictable.
func New(source MetadataSource, q QuotaReserver, channels ChannelStore, videos VideoStore, fanOut int, log *zap.Logger, m *metrics.Metrics) *Poller {
	if fanOut <= 0 {
		fanOut = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{
		source:   source,
		quota:    q,
		channels: channels,
		videos:   videos,
		fanOut:   fanOut,
		log:      log,
		metrics:  m,
	}
}

// PollCycle reconciles all given channels. Quota exhaustion aborts the
// remainder of the cycle and is returned; per-channel failures are handled
// in place and do not stop the cycle.
func (p *Poller) PollCycle(ctx context.Context, channels []*models.Channel) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.fanOut)

	for _, channel := range channels {
		channel := channel
		group.Go(func() error {
			err := p.PollChannel(groupCtx, channel)
			switch {
			case err == nil:
				return nil
			case isQuotaExceeded(err):
				// Abort the cycle, not the process.
				return err
			case errors.Is(err, youtube.ErrUnauthorized):
				p.log.Warn("channel authorization failed, suspending",
					zap.String("channel", channel.ChannelID), zap.Error(err))
				if serr := p.channels.SetYppStatus(groupCtx, channel.ChannelID, models.SuspendedStatus("AuthFailed")); serr != nil {
					p.log.Error("failed to suspend channel",
						zap.String("channel", channel.ChannelID), zap.Error(serr))
				}
				return nil
			default:
				p.log.Error("channel poll failed",
					zap.String("channel", channel.ChannelID), zap.Error(err))
				return nil
			}
		})
	}

	return group.Wait()
}

// PollChannel reconciles one channel's uploads into the state store.
func (p *Poller) PollChannel(ctx context.Context, channel *models.Channel) error {
	if !p.quota.Reserve(quota.PoolSync, 1) {
		return &quota.ErrQuotaExceeded{Pool: quota.PoolSync}
	}

	uploads, cost, err := p.source.ListUploads(ctx, channel)
	if err != nil {
		if errors.Is(err, youtube.ErrQuotaLimitExceeded) {
			return &quota.ErrQuotaExceeded{Pool: quota.PoolSync}
		}
		return err
	}
	if cost > 1 {
		// The playlist walk burned more than the reserved unit; account for
		// the overage so the pool tracks real API usage. An overage larger
		// than the pool's remainder exhausts the pool.
		if !p.quota.Reserve(quota.PoolSync, cost-1) {
			for p.quota.Reserve(quota.PoolSync, 1) {
			}
		}
	}

	upstream := make(map[string]*youtube.VideoMetadata, len(uploads))
	var batch []*models.Video
	inserted := 0

	for _, upload := range uploads {
		upstream[upload.ID] = upload

		existing, err := p.videos.Get(ctx, channel.ChannelID, upload.ID)
		switch {
		case err == nil:
			if existing.State.IsTerminal() {
				continue
			}
			refreshed := *existing
			applyMetadata(&refreshed, upload)
			batch = append(batch, &refreshed)
		case db.IsNotFound(err):
			record := newVideoRecord(channel, upload)
			batch = append(batch, record)
			inserted++
		default:
			return err
		}
	}

	if len(batch) > 0 {
		if err := p.videos.BatchUpsert(ctx, batch); err != nil {
			return err
		}
	}

	if err := p.markRemoved(ctx, channel, upstream); err != nil {
		return err
	}

	p.log.Info("channel reconciled",
		zap.String("channel", channel.ChannelID),
		zap.Int("upstream", len(uploads)),
		zap.Int("new", inserted),
	)
	return nil
}

// markRemoved transitions tracked videos that the upstream no longer lists
// (or now reports as private) to VideoUnavailable. Videos that already carry
// an on-chain record keep their state.
func (p *Poller) markRemoved(ctx context.Context, channel *models.Channel, upstream map[string]*youtube.VideoMetadata) error {
	tracked, err := p.videos.ListByChannel(ctx, channel.ChannelID)
	if err != nil {
		return err
	}

	for _, video := range tracked {
		if video.State.IsTerminal() || video.State.HasChainRecord() {
			continue
		}

		meta, present := upstream[video.VideoID]
		if present && meta.PrivacyStatus != "private" {
			continue
		}

		err := p.videos.TransitionState(ctx, video.ChannelID, video.VideoID, models.StateVideoUnavailable, nil)
		if err != nil {
			p.log.Warn("failed to mark video unavailable",
				zap.String("video", video.VideoID), zap.Error(err))
			continue
		}
		if p.metrics != nil {
			p.metrics.StateTransitions.WithLabelValues(string(models.StateVideoUnavailable)).Inc()
		}
	}
	return nil
}

func newVideoRecord(channel *models.Channel, meta *youtube.VideoMetadata) *models.Video {
	video := &models.Video{
		ChannelID:          channel.ChannelID,
		VideoID:            meta.ID,
		JoystreamChannelID: channel.JoystreamChannelID,
		Category:           channel.DefaultCategory,
		Language:           channel.Language,
		State:              models.StateNew,
	}
	applyMetadata(video, meta)
	return video
}

// applyMetadata refreshes the attributes the upstream may change. State and
// on-chain fields are never touched here.
func applyMetadata(video *models.Video, meta *youtube.VideoMetadata) {
	video.Title = meta.Title
	video.Description = meta.Description
	video.DurationSeconds = meta.DurationSeconds
	video.ThumbnailURL = meta.ThumbnailURL
	video.PublishedAt = meta.PublishedAt
	video.UploadStatus = meta.UploadStatus
	video.PrivacyStatus = meta.PrivacyStatus
	video.LiveBroadcastContent = meta.LiveBroadcastContent
	video.License = meta.License
	video.Container = meta.Container
	video.ViewCount = meta.ViewCount
}

func isQuotaExceeded(err error) bool {
	var quotaErr *quota.ErrQuotaExceeded
	return errors.As(err, &quotaErr)
}
