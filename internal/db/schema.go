package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the DDL for the three state-store tables and their secondary
// indexes. Applied by cmd/migrate; idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS channels (
	user_id                      TEXT NOT NULL,
	channel_id                   TEXT NOT NULL,
	title                        TEXT NOT NULL DEFAULT '',
	description                  TEXT NOT NULL DEFAULT '',
	thumbnail_url                TEXT NOT NULL DEFAULT '',
	access_token                 TEXT NOT NULL DEFAULT '',
	refresh_token                TEXT NOT NULL DEFAULT '',
	uploads_playlist_id          TEXT NOT NULL DEFAULT '',
	joystream_channel_id         BIGINT NOT NULL DEFAULT 0,
	referrer_channel_id          BIGINT,
	language                     TEXT NOT NULL DEFAULT '',
	default_category             TEXT NOT NULL DEFAULT '',
	should_be_ingested           BOOLEAN NOT NULL DEFAULT TRUE,
	allow_operator_ingestion     BOOLEAN NOT NULL DEFAULT TRUE,
	perform_unauthorized_sync    BOOLEAN NOT NULL DEFAULT FALSE,
	ypp_status                   TEXT NOT NULL DEFAULT 'Unverified',
	historical_video_synced_size BIGINT NOT NULL DEFAULT 0,
	subscribers_count            BIGINT NOT NULL DEFAULT 0,
	last_acted_at                TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
	phantom_key                  TEXT NOT NULL DEFAULT 'phantomData',
	created_at                   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at                   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, channel_id)
);

CREATE INDEX IF NOT EXISTS channels_joystream_channel_id_created_at
	ON channels (joystream_channel_id, created_at);
CREATE INDEX IF NOT EXISTS channels_referrer_channel_id
	ON channels (referrer_channel_id);
CREATE INDEX IF NOT EXISTS channels_phantom_key_created_at
	ON channels (phantom_key, created_at);

CREATE TABLE IF NOT EXISTS videos (
	channel_id             TEXT NOT NULL,
	video_id               TEXT NOT NULL,
	title                  TEXT NOT NULL DEFAULT '',
	description            TEXT NOT NULL DEFAULT '',
	duration_seconds       INTEGER NOT NULL DEFAULT 0,
	thumbnail_url          TEXT NOT NULL DEFAULT '',
	published_at           TIMESTAMPTZ,
	upload_status          TEXT NOT NULL DEFAULT '',
	privacy_status         TEXT NOT NULL DEFAULT '',
	live_broadcast_content TEXT NOT NULL DEFAULT '',
	license                TEXT NOT NULL DEFAULT '',
	container              TEXT NOT NULL DEFAULT '',
	view_count             BIGINT NOT NULL DEFAULT 0,
	joystream_channel_id   BIGINT NOT NULL DEFAULT 0,
	category               TEXT NOT NULL DEFAULT '',
	language               TEXT NOT NULL DEFAULT '',
	state                  TEXT NOT NULL DEFAULT 'New',
	joystream_video_id     BIGINT,
	media_object_id        TEXT,
	thumbnail_object_id    TEXT,
	media_size             BIGINT NOT NULL DEFAULT 0,
	retry_count            INTEGER NOT NULL DEFAULT 0,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (channel_id, video_id)
);

CREATE INDEX IF NOT EXISTS videos_state_updated_at
	ON videos (state, updated_at);

CREATE TABLE IF NOT EXISTS whitelist_channels (
	channel_handle TEXT PRIMARY KEY,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Migrate applies the schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, Schema)
	return WrapError(err, "migrate schema")
}
