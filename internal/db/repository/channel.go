// Package repository implements the state-store access layer. Every
// repository serializes all of its operations behind one per-table critical
// section, which makes point writes linearizable and list reads
// snapshot-consistent at the cost of table-level contention.
package repository

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joystream/youtube-synch-go/internal/db"
	"github.com/joystream/youtube-synch-go/internal/db/models"
)

// ChannelPatch is the set of channel fields a creator or operator action may
// modify. Nil fields are left untouched.
type ChannelPatch struct {
	ShouldBeIngested        *bool
	AllowOperatorIngestion  *bool
	PerformUnauthorizedSync *bool
	YppStatus               *models.ChannelYppStatus
}

// ChannelRepository defines operations for managing channel records.
type ChannelRepository interface {
	// Upsert creates or patches a channel. The primary key and createdAt are
	// never modified on update; updatedAt is always refreshed.
	Upsert(ctx context.Context, channel *models.Channel) error

	// Get performs a point lookup by primary key.
	Get(ctx context.Context, userID, channelID string) (*models.Channel, error)

	// GetByChannelID resolves a channel by its external channel id alone.
	GetByChannelID(ctx context.Context, channelID string) (*models.Channel, error)

	// GetByJoystreamID resolves a channel through the joystreamChannelId index.
	GetByJoystreamID(ctx context.Context, joystreamChannelID int64) (*models.Channel, error)

	// ListByReferrer scans the referrerChannelId index.
	ListByReferrer(ctx context.Context, referrerChannelID int64) ([]*models.Channel, error)

	// ListRecentVerified scans the phantom-key index for recently created
	// Verified channels, newest first.
	ListRecentVerified(ctx context.Context, limit int) ([]*models.Channel, error)

	// ListSyncCandidates returns all channels ordered by lastActedAt
	// ascending. Eligibility filtering is the registry view's concern.
	ListSyncCandidates(ctx context.Context) ([]*models.Channel, error)

	// BatchUpsert writes channels in bulk, retrying unprocessed rows while
	// each round writes at least one of them; a round that writes none
	// returns the last error.
	BatchUpsert(ctx context.Context, channels []*models.Channel) error

	// SetYppStatus updates the participation status of all records with the
	// given external channel id.
	SetYppStatus(ctx context.Context, channelID string, status models.ChannelYppStatus) error

	// AddHistoricalSyncedSize adds delta bytes to the channel's historical
	// sync accounting.
	AddHistoricalSyncedSize(ctx context.Context, channelID string, delta int64) error

	// RecordCreatorAction applies a creator-signed mutation guarded by the
	// replay rule: the action timestamp must strictly exceed the stored
	// lastActedAt, otherwise db.ErrStaleAction is returned and the channel
	// is unchanged.
	RecordCreatorAction(ctx context.Context, userID, channelID string, actedAt time.Time, patch ChannelPatch) error
}

type channelRepository struct {
	pool *pgxpool.Pool
	mu   sync.Mutex
}

// NewChannelRepository creates a new ChannelRepository.
func NewChannelRepository(pool *pgxpool.Pool) ChannelRepository {
	return &channelRepository{pool: pool}
}

const channelColumns = `user_id, channel_id, title, description, thumbnail_url,
	access_token, refresh_token, uploads_playlist_id,
	joystream_channel_id, referrer_channel_id, language, default_category,
	should_be_ingested, allow_operator_ingestion, perform_unauthorized_sync,
	ypp_status, historical_video_synced_size, subscribers_count, last_acted_at,
	created_at, updated_at`

func (r *channelRepository) Upsert(ctx context.Context, channel *models.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.upsertLocked(ctx, channel)
}

func (r *channelRepository) upsertLocked(ctx context.Context, channel *models.Channel) error {
	query := `
		INSERT INTO channels (user_id, channel_id, title, description, thumbnail_url,
			access_token, refresh_token, uploads_playlist_id,
			joystream_channel_id, referrer_channel_id, language, default_category,
			should_be_ingested, allow_operator_ingestion, perform_unauthorized_sync,
			ypp_status, historical_video_synced_size, subscribers_count, last_acted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (user_id, channel_id) DO UPDATE
		SET title = EXCLUDED.title,
		    description = EXCLUDED.description,
		    thumbnail_url = EXCLUDED.thumbnail_url,
		    access_token = EXCLUDED.access_token,
		    refresh_token = EXCLUDED.refresh_token,
		    uploads_playlist_id = EXCLUDED.uploads_playlist_id,
		    joystream_channel_id = EXCLUDED.joystream_channel_id,
		    referrer_channel_id = EXCLUDED.referrer_channel_id,
		    language = EXCLUDED.language,
		    default_category = EXCLUDED.default_category,
		    should_be_ingested = EXCLUDED.should_be_ingested,
		    allow_operator_ingestion = EXCLUDED.allow_operator_ingestion,
		    perform_unauthorized_sync = EXCLUDED.perform_unauthorized_sync,
		    ypp_status = EXCLUDED.ypp_status,
		    historical_video_synced_size = EXCLUDED.historical_video_synced_size,
		    subscribers_count = EXCLUDED.subscribers_count,
		    last_acted_at = EXCLUDED.last_acted_at,
		    updated_at = now()
		RETURNING created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		channel.UserID,
		channel.ChannelID,
		channel.Title,
		channel.Description,
		channel.ThumbnailURL,
		channel.AccessToken,
		channel.RefreshToken,
		channel.UploadsPlaylistID,
		channel.JoystreamChannelID,
		channel.ReferrerChannelID,
		channel.Language,
		channel.DefaultCategory,
		channel.ShouldBeIngested,
		channel.AllowOperatorIngestion,
		channel.PerformUnauthorizedSync,
		channel.YppStatus,
		channel.HistoricalVideoSyncedSize,
		channel.SubscribersCount,
		channel.LastActedAt,
	).Scan(&channel.CreatedAt, &channel.UpdatedAt)

	if err != nil {
		return db.WrapError(err, "upsert channel")
	}

	return nil
}

func (r *channelRepository) Get(ctx context.Context, userID, channelID string) (*models.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	query := `SELECT ` + channelColumns + ` FROM channels WHERE user_id = $1 AND channel_id = $2`
	channel, err := scanChannel(r.pool.QueryRow(ctx, query, userID, channelID))
	if err != nil {
		return nil, db.WrapError(err, "get channel")
	}
	return channel, nil
}

func (r *channelRepository) GetByChannelID(ctx context.Context, channelID string) (*models.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	query := `SELECT ` + channelColumns + ` FROM channels WHERE channel_id = $1 ORDER BY created_at LIMIT 1`
	channel, err := scanChannel(r.pool.QueryRow(ctx, query, channelID))
	if err != nil {
		return nil, db.WrapError(err, "get channel by channel id")
	}
	return channel, nil
}

func (r *channelRepository) GetByJoystreamID(ctx context.Context, joystreamChannelID int64) (*models.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	query := `SELECT ` + channelColumns + ` FROM channels
		WHERE joystream_channel_id = $1 ORDER BY created_at LIMIT 1`
	channel, err := scanChannel(r.pool.QueryRow(ctx, query, joystreamChannelID))
	if err != nil {
		return nil, db.WrapError(err, "get channel by joystream id")
	}
	return channel, nil
}

func (r *channelRepository) ListByReferrer(ctx context.Context, referrerChannelID int64) ([]*models.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	query := `SELECT ` + channelColumns + ` FROM channels
		WHERE referrer_channel_id = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, referrerChannelID)
	if err != nil {
		return nil, db.WrapError(err, "list channels by referrer")
	}
	defer rows.Close()

	return scanChannels(rows)
}

func (r *channelRepository) ListRecentVerified(ctx context.Context, limit int) ([]*models.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	query := `SELECT ` + channelColumns + ` FROM channels
		WHERE phantom_key = 'phantomData' AND ypp_status LIKE 'Verified::%'
		ORDER BY created_at DESC LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, db.WrapError(err, "list recent verified channels")
	}
	defer rows.Close()

	return scanChannels(rows)
}

func (r *channelRepository) ListSyncCandidates(ctx context.Context) ([]*models.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	query := `SELECT ` + channelColumns + ` FROM channels ORDER BY last_acted_at ASC, channel_id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, db.WrapError(err, "list sync candidates")
	}
	defer rows.Close()

	return scanChannels(rows)
}

func (r *channelRepository) BatchUpsert(ctx context.Context, channels []*models.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Best-effort bulk write: anything that fails stays in the unprocessed
	// set and is retried until the set is empty, the context expires, or a
	// round writes none of the remaining rows.
	unprocessed := channels
	for len(unprocessed) > 0 {
		var failed []*models.Channel
		var lastErr error
		for _, channel := range unprocessed {
			if err := r.upsertLocked(ctx, channel); err != nil {
				if ctx.Err() != nil {
					return db.WrapError(ctx.Err(), "batch upsert channels")
				}
				failed = append(failed, channel)
				lastErr = err
			}
		}
		if len(failed) == len(unprocessed) {
			return db.WrapError(lastErr, "batch upsert channels: no progress")
		}
		unprocessed = failed
	}
	return nil
}

func (r *channelRepository) SetYppStatus(ctx context.Context, channelID string, status models.ChannelYppStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tag, err := r.pool.Exec(ctx,
		`UPDATE channels SET ypp_status = $2, updated_at = now() WHERE channel_id = $1`,
		channelID, status)
	if err != nil {
		return db.WrapError(err, "set ypp status")
	}
	if tag.RowsAffected() == 0 {
		return db.WrapError(pgx.ErrNoRows, "set ypp status")
	}
	return nil
}

func (r *channelRepository) AddHistoricalSyncedSize(ctx context.Context, channelID string, delta int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tag, err := r.pool.Exec(ctx,
		`UPDATE channels
		 SET historical_video_synced_size = historical_video_synced_size + $2, updated_at = now()
		 WHERE channel_id = $1`,
		channelID, delta)
	if err != nil {
		return db.WrapError(err, "add historical synced size")
	}
	if tag.RowsAffected() == 0 {
		return db.WrapError(pgx.ErrNoRows, "add historical synced size")
	}
	return nil
}

func (r *channelRepository) RecordCreatorAction(ctx context.Context, userID, channelID string, actedAt time.Time, patch ChannelPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	query := `
		UPDATE channels
		SET should_be_ingested = COALESCE($4, should_be_ingested),
		    allow_operator_ingestion = COALESCE($5, allow_operator_ingestion),
		    perform_unauthorized_sync = COALESCE($6, perform_unauthorized_sync),
		    ypp_status = COALESCE($7, ypp_status),
		    last_acted_at = $3,
		    updated_at = now()
		WHERE user_id = $1 AND channel_id = $2 AND last_acted_at < $3
	`

	var status *string
	if patch.YppStatus != nil {
		s := string(*patch.YppStatus)
		status = &s
	}

	tag, err := r.pool.Exec(ctx, query, userID, channelID, actedAt,
		patch.ShouldBeIngested, patch.AllowOperatorIngestion, patch.PerformUnauthorizedSync, status)
	if err != nil {
		return db.WrapError(err, "record creator action")
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Distinguish a replayed action from a missing channel.
	var exists bool
	err = r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM channels WHERE user_id = $1 AND channel_id = $2)`,
		userID, channelID).Scan(&exists)
	if err != nil {
		return db.WrapError(err, "record creator action")
	}
	if !exists {
		return db.WrapError(pgx.ErrNoRows, "record creator action")
	}
	return db.WrapError(db.ErrStaleAction, "record creator action")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(row rowScanner) (*models.Channel, error) {
	channel := &models.Channel{}
	err := row.Scan(
		&channel.UserID,
		&channel.ChannelID,
		&channel.Title,
		&channel.Description,
		&channel.ThumbnailURL,
		&channel.AccessToken,
		&channel.RefreshToken,
		&channel.UploadsPlaylistID,
		&channel.JoystreamChannelID,
		&channel.ReferrerChannelID,
		&channel.Language,
		&channel.DefaultCategory,
		&channel.ShouldBeIngested,
		&channel.AllowOperatorIngestion,
		&channel.PerformUnauthorizedSync,
		&channel.YppStatus,
		&channel.HistoricalVideoSyncedSize,
		&channel.SubscribersCount,
		&channel.LastActedAt,
		&channel.CreatedAt,
		&channel.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return channel, nil
}

func scanChannels(rows pgx.Rows) ([]*models.Channel, error) {
	var channels []*models.Channel
	for rows.Next() {
		channel, err := scanChannel(rows)
		if err != nil {
			return nil, db.WrapError(err, "scan channel")
		}
		channels = append(channels, channel)
	}
	if err := rows.Err(); err != nil {
		return nil, db.WrapError(err, "iterate channels")
	}
	return channels, nil
}
