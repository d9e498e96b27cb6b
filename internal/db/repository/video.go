package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joystream/youtube-synch-go/internal/db"
	"github.com/joystream/youtube-synch-go/internal/db/models"
)

// ErrInvalidTransition is returned when a requested state change does not
// follow a lifecycle edge. The record is left untouched.
var ErrInvalidTransition = errors.New("invalid video state transition")

// VideoRepository defines operations for managing video records.
type VideoRepository interface {
	// Upsert creates a video or refreshes its mutable metadata. State and
	// on-chain fields are not modified on update; use TransitionState.
	Upsert(ctx context.Context, video *models.Video) error

	// Get performs a point lookup by primary key.
	Get(ctx context.Context, channelID, videoID string) (*models.Video, error)

	// BatchUpsert writes videos in bulk, retrying unprocessed rows while
	// each round writes at least one of them; a round that writes none
	// returns the last error.
	BatchUpsert(ctx context.Context, videos []*models.Video) error

	// ListByState scans the state-updatedAt index in ascending updatedAt
	// order. limit <= 0 means no limit.
	ListByState(ctx context.Context, state models.VideoState, limit int) ([]*models.Video, error)

	// ListByChannel returns all tracked videos of one channel.
	ListByChannel(ctx context.Context, channelID string) ([]*models.Video, error)

	// GetAllUnsyncedVideos returns the download work set: New videos passing
	// the sync filter (updatedAt ascending), then VideoCreationFailed, then
	// UploadFailed.
	GetAllUnsyncedVideos(ctx context.Context) ([]*models.Video, error)

	// GetAllVideosInPendingUploadState returns up to limit videos awaiting
	// upload: UploadFailed first, then VideoCreated, each bucket in
	// updatedAt ascending order.
	GetAllVideosInPendingUploadState(ctx context.Context, limit int) ([]*models.Video, error)

	// TransitionState moves a video along a lifecycle edge. The write is
	// conditional on the stored state still matching the observed one, so
	// concurrent writers serialize; losers get ErrInvalidTransition and
	// re-read. mutate, when non-nil, patches the record inside the same
	// write (chain record, media size, retry count).
	TransitionState(ctx context.Context, channelID, videoID string, to models.VideoState, mutate func(*models.Video)) error

	// SetMediaSize records the staged byte size without a state change.
	SetMediaSize(ctx context.Context, channelID, videoID string, size int64) error

	// IncrementRetryCount bumps the transient-failure counter.
	IncrementRetryCount(ctx context.Context, channelID, videoID string) error

	// CountByState aggregates video counts per lifecycle state.
	CountByState(ctx context.Context) (map[models.VideoState]int64, error)
}

type videoRepository struct {
	pool *pgxpool.Pool
	mu   sync.Mutex
}

// NewVideoRepository creates a new VideoRepository.
func NewVideoRepository(pool *pgxpool.Pool) VideoRepository {
	return &videoRepository{pool: pool}
}

const videoColumns = `channel_id, video_id, title, description, duration_seconds,
	thumbnail_url, published_at, upload_status, privacy_status, live_broadcast_content,
	license, container, view_count, joystream_channel_id, category, language,
	state, joystream_video_id, media_object_id, thumbnail_object_id,
	media_size, retry_count, created_at, updated_at`

func (r *videoRepository) Upsert(ctx context.Context, video *models.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.upsertLocked(ctx, video)
}

func (r *videoRepository) upsertLocked(ctx context.Context, video *models.Video) error {
	if video.State == "" {
		video.State = models.StateNew
	}

	query := `
		INSERT INTO videos (channel_id, video_id, title, description, duration_seconds,
			thumbnail_url, published_at, upload_status, privacy_status, live_broadcast_content,
			license, container, view_count, joystream_channel_id, category, language, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (channel_id, video_id) DO UPDATE
		SET title = EXCLUDED.title,
		    description = EXCLUDED.description,
		    duration_seconds = EXCLUDED.duration_seconds,
		    thumbnail_url = EXCLUDED.thumbnail_url,
		    upload_status = EXCLUDED.upload_status,
		    privacy_status = EXCLUDED.privacy_status,
		    live_broadcast_content = EXCLUDED.live_broadcast_content,
		    view_count = EXCLUDED.view_count,
		    updated_at = now()
		RETURNING state, created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		video.ChannelID,
		video.VideoID,
		video.Title,
		video.Description,
		video.DurationSeconds,
		video.ThumbnailURL,
		video.PublishedAt,
		video.UploadStatus,
		video.PrivacyStatus,
		video.LiveBroadcastContent,
		video.License,
		video.Container,
		video.ViewCount,
		video.JoystreamChannelID,
		video.Category,
		video.Language,
		video.State,
	).Scan(&video.State, &video.CreatedAt, &video.UpdatedAt)

	if err != nil {
		return db.WrapError(err, "upsert video")
	}

	return nil
}

func (r *videoRepository) Get(ctx context.Context, channelID, videoID string) (*models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.getLocked(ctx, channelID, videoID)
}

func (r *videoRepository) getLocked(ctx context.Context, channelID, videoID string) (*models.Video, error) {
	query := `SELECT ` + videoColumns + ` FROM videos WHERE channel_id = $1 AND video_id = $2`
	video, err := scanVideo(r.pool.QueryRow(ctx, query, channelID, videoID))
	if err != nil {
		return nil, db.WrapError(err, "get video")
	}
	return video, nil
}

func (r *videoRepository) BatchUpsert(ctx context.Context, videos []*models.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	unprocessed := videos
	for len(unprocessed) > 0 {
		var failed []*models.Video
		var lastErr error
		for _, video := range unprocessed {
			if err := r.upsertLocked(ctx, video); err != nil {
				if ctx.Err() != nil {
					return db.WrapError(ctx.Err(), "batch upsert videos")
				}
				failed = append(failed, video)
				lastErr = err
			}
		}
		if len(failed) == len(unprocessed) {
			return db.WrapError(lastErr, "batch upsert videos: no progress")
		}
		unprocessed = failed
	}
	return nil
}

func (r *videoRepository) ListByState(ctx context.Context, state models.VideoState, limit int) ([]*models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	query := `SELECT ` + videoColumns + ` FROM videos WHERE state = $1 ORDER BY updated_at ASC`
	args := []any{state}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, db.WrapError(err, "list videos by state")
	}
	defer rows.Close()

	return scanVideos(rows)
}

func (r *videoRepository) ListByChannel(ctx context.Context, channelID string) ([]*models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.pool.Query(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE channel_id = $1 ORDER BY published_at DESC`, channelID)
	if err != nil {
		return nil, db.WrapError(err, "list videos by channel")
	}
	defer rows.Close()

	return scanVideos(rows)
}

func (r *videoRepository) GetAllUnsyncedVideos(ctx context.Context) ([]*models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// New videos are subject to the sync filter; the two failure states are
	// re-drained unconditionally.
	query := `
		SELECT ` + videoColumns + ` FROM videos
		WHERE state = 'New'
		  AND privacy_status = 'public'
		  AND upload_status = 'processed'
		  AND live_broadcast_content = 'none'
		ORDER BY updated_at ASC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, db.WrapError(err, "get unsynced videos")
	}
	fresh, err := scanVideos(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	var out []*models.Video
	out = append(out, fresh...)

	for _, state := range []models.VideoState{models.StateVideoCreationFailed, models.StateUploadFailed} {
		rows, err := r.pool.Query(ctx,
			`SELECT `+videoColumns+` FROM videos WHERE state = $1 ORDER BY updated_at ASC`, state)
		if err != nil {
			return nil, db.WrapError(err, "get unsynced videos")
		}
		batch, err := scanVideos(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}

	return out, nil
}

func (r *videoRepository) GetAllVideosInPendingUploadState(ctx context.Context, limit int) ([]*models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	query := `
		SELECT ` + videoColumns + ` FROM videos
		WHERE state IN ('UploadFailed', 'VideoCreated')
		ORDER BY CASE state WHEN 'UploadFailed' THEN 0 ELSE 1 END, updated_at ASC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, db.WrapError(err, "get videos pending upload")
	}
	defer rows.Close()

	return scanVideos(rows)
}

func (r *videoRepository) TransitionState(ctx context.Context, channelID, videoID string, to models.VideoState, mutate func(*models.Video)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	video, err := r.getLocked(ctx, channelID, videoID)
	if err != nil {
		return err
	}

	from := video.State
	if !models.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s (video %s/%s)", ErrInvalidTransition, from, to, channelID, videoID)
	}

	video.State = to
	if mutate != nil {
		mutate(video)
	}

	var joystreamVideoID *int64
	var mediaObjectID, thumbnailObjectID *string
	if video.JoystreamVideo != nil {
		joystreamVideoID = &video.JoystreamVideo.ID
		if len(video.JoystreamVideo.AssetIDs) == 2 {
			mediaObjectID = &video.JoystreamVideo.AssetIDs[0]
			thumbnailObjectID = &video.JoystreamVideo.AssetIDs[1]
		}
	}

	query := `
		UPDATE videos
		SET state = $4,
		    joystream_video_id = $5,
		    media_object_id = $6,
		    thumbnail_object_id = $7,
		    media_size = $8,
		    retry_count = $9,
		    updated_at = now()
		WHERE channel_id = $1 AND video_id = $2 AND state = $3
	`

	tag, err := r.pool.Exec(ctx, query, channelID, videoID, from,
		to, joystreamVideoID, mediaObjectID, thumbnailObjectID, video.MediaSize, video.RetryCount)
	if err != nil {
		return db.WrapError(err, "transition video state")
	}
	if tag.RowsAffected() == 0 {
		// A concurrent writer advanced the record first.
		return fmt.Errorf("%w: %s -> %s lost race (video %s/%s)", ErrInvalidTransition, from, to, channelID, videoID)
	}
	return nil
}

func (r *videoRepository) SetMediaSize(ctx context.Context, channelID, videoID string, size int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tag, err := r.pool.Exec(ctx,
		`UPDATE videos SET media_size = $3, updated_at = now() WHERE channel_id = $1 AND video_id = $2`,
		channelID, videoID, size)
	if err != nil {
		return db.WrapError(err, "set media size")
	}
	if tag.RowsAffected() == 0 {
		return db.WrapError(pgx.ErrNoRows, "set media size")
	}
	return nil
}

func (r *videoRepository) IncrementRetryCount(ctx context.Context, channelID, videoID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tag, err := r.pool.Exec(ctx,
		`UPDATE videos SET retry_count = retry_count + 1, updated_at = now()
		 WHERE channel_id = $1 AND video_id = $2`,
		channelID, videoID)
	if err != nil {
		return db.WrapError(err, "increment retry count")
	}
	if tag.RowsAffected() == 0 {
		return db.WrapError(pgx.ErrNoRows, "increment retry count")
	}
	return nil
}

func (r *videoRepository) CountByState(ctx context.Context) (map[models.VideoState]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.pool.Query(ctx, `SELECT state, COUNT(*) FROM videos GROUP BY state`)
	if err != nil {
		return nil, db.WrapError(err, "count videos by state")
	}
	defer rows.Close()

	counts := make(map[models.VideoState]int64)
	for rows.Next() {
		var state models.VideoState
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return nil, db.WrapError(err, "count videos by state")
		}
		counts[state] = count
	}
	if err := rows.Err(); err != nil {
		return nil, db.WrapError(err, "count videos by state")
	}
	return counts, nil
}

func scanVideo(row rowScanner) (*models.Video, error) {
	video := &models.Video{}
	var joystreamVideoID *int64
	var mediaObjectID, thumbnailObjectID *string

	err := row.Scan(
		&video.ChannelID,
		&video.VideoID,
		&video.Title,
		&video.Description,
		&video.DurationSeconds,
		&video.ThumbnailURL,
		&video.PublishedAt,
		&video.UploadStatus,
		&video.PrivacyStatus,
		&video.LiveBroadcastContent,
		&video.License,
		&video.Container,
		&video.ViewCount,
		&video.JoystreamChannelID,
		&video.Category,
		&video.Language,
		&video.State,
		&joystreamVideoID,
		&mediaObjectID,
		&thumbnailObjectID,
		&video.MediaSize,
		&video.RetryCount,
		&video.CreatedAt,
		&video.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if joystreamVideoID != nil {
		jv := &models.JoystreamVideo{ID: *joystreamVideoID}
		if mediaObjectID != nil && thumbnailObjectID != nil {
			jv.AssetIDs = []string{*mediaObjectID, *thumbnailObjectID}
		}
		video.JoystreamVideo = jv
	}

	return video, nil
}

func scanVideos(rows pgx.Rows) ([]*models.Video, error) {
	var videos []*models.Video
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, db.WrapError(err, "scan video")
		}
		videos = append(videos, video)
	}
	if err := rows.Err(); err != nil {
		return nil, db.WrapError(err, "iterate videos")
	}
	return videos, nil
}
