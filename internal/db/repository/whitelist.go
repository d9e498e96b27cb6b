package repository

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joystream/youtube-synch-go/internal/db"
	"github.com/joystream/youtube-synch-go/internal/db/models"
)

// WhitelistRepository manages the onboarding whitelist.
type WhitelistRepository interface {
	Add(ctx context.Context, channelHandle string) error
	Remove(ctx context.Context, channelHandle string) error
	Exists(ctx context.Context, channelHandle string) (bool, error)
	List(ctx context.Context) ([]*models.WhitelistEntry, error)
}

type whitelistRepository struct {
	pool *pgxpool.Pool
	mu   sync.Mutex
}

// NewWhitelistRepository creates a new WhitelistRepository.
func NewWhitelistRepository(pool *pgxpool.Pool) WhitelistRepository {
	return &whitelistRepository{pool: pool}
}

func (r *whitelistRepository) Add(ctx context.Context, channelHandle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.pool.Exec(ctx,
		`INSERT INTO whitelist_channels (channel_handle) VALUES ($1)
		 ON CONFLICT (channel_handle) DO NOTHING`,
		channelHandle)
	return db.WrapError(err, "add whitelist entry")
}

func (r *whitelistRepository) Remove(ctx context.Context, channelHandle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.pool.Exec(ctx,
		`DELETE FROM whitelist_channels WHERE channel_handle = $1`, channelHandle)
	return db.WrapError(err, "remove whitelist entry")
}

func (r *whitelistRepository) Exists(ctx context.Context, channelHandle string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM whitelist_channels WHERE channel_handle = $1)`,
		channelHandle).Scan(&exists)
	if err != nil {
		return false, db.WrapError(err, "check whitelist entry")
	}
	return exists, nil
}

func (r *whitelistRepository) List(ctx context.Context) ([]*models.WhitelistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.pool.Query(ctx,
		`SELECT channel_handle, created_at FROM whitelist_channels ORDER BY created_at`)
	if err != nil {
		return nil, db.WrapError(err, "list whitelist entries")
	}
	defer rows.Close()

	var entries []*models.WhitelistEntry
	for rows.Next() {
		entry := &models.WhitelistEntry{}
		if err := rows.Scan(&entry.ChannelHandle, &entry.CreatedAt); err != nil {
			return nil, db.WrapError(err, "scan whitelist entry")
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, db.WrapError(err, "iterate whitelist entries")
	}
	return entries, nil
}
