package models

import (
	"time"
)

// VideoState is a video's lifecycle state.
type VideoState string

const (
	StateNew                 VideoState = "New"
	StateVideoCreationFailed VideoState = "VideoCreationFailed"
	StateVideoCreated        VideoState = "VideoCreated"
	StateUploadFailed        VideoState = "UploadFailed"
	StateUploadSucceeded     VideoState = "UploadSucceeded"
	StateVideoUnavailable    VideoState = "VideoUnavailable"
)

// validTransitions encodes the lifecycle edges. A state maps to the set of
// states it may move to; same-state writes are allowed where retries land a
// video back where it was. VideoUnavailable and UploadSucceeded are sinks.
var validTransitions = map[VideoState]map[VideoState]struct{}{
	StateNew: {
		StateNew:                 {},
		StateVideoCreationFailed: {},
		StateVideoCreated:        {},
		StateVideoUnavailable:    {},
	},
	StateVideoCreationFailed: {
		StateVideoCreationFailed: {},
		StateVideoCreated:        {},
		StateVideoUnavailable:    {},
	},
	StateVideoCreated: {
		StateUploadFailed:    {},
		StateUploadSucceeded: {},
	},
	StateUploadFailed: {
		StateUploadFailed:    {},
		StateUploadSucceeded: {},
	},
}

// CanTransition reports whether moving from one state to another follows a
// lifecycle edge.
func CanTransition(from, to VideoState) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// IsTerminal reports whether the state is a sink.
func (s VideoState) IsTerminal() bool {
	return s == StateVideoUnavailable || s == StateUploadSucceeded
}

// HasChainRecord reports whether a video in this state carries an on-chain
// video record. JoystreamVideo is populated exactly for these states.
func (s VideoState) HasChainRecord() bool {
	switch s {
	case StateVideoCreated, StateUploadFailed, StateUploadSucceeded:
		return true
	default:
		return false
	}
}

// JoystreamVideo is the on-chain record reference, populated from
// VideoCreated onward. AssetIDs is ordered [media, thumbnail].
type JoystreamVideo struct {
	ID       int64    `json:"id"`
	AssetIDs []string `json:"assetIds"`
}

// Video mirrors one external video and its sync lifecycle.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Video struct {
	// Primary key.
	ChannelID string `json:"channelId"`
	VideoID   string `json:"videoId"`

	// External metadata.
	Title                string    `json:"title"`
	Description          string    `json:"description"`
	DurationSeconds      int       `json:"durationSeconds"`
	ThumbnailURL         string    `json:"thumbnailUrl"`
	PublishedAt          time.Time `json:"publishedAt"`
	UploadStatus         string    `json:"uploadStatus"`
	PrivacyStatus        string    `json:"privacyStatus"`
	LiveBroadcastContent string    `json:"liveBroadcastContent"`
	License              string    `json:"license"`
	Container            string    `json:"container"`
	ViewCount            int64     `json:"viewCount"`

	// Denormalized platform mapping.
	JoystreamChannelID int64  `json:"joystreamChannelId"`
	Category           string `json:"category"`
	Language           string `json:"language"`

	State VideoState `json:"state"`

	// On-chain record, nil until VideoCreated.
	JoystreamVideo *JoystreamVideo `json:"joystreamVideo,omitempty"`

	MediaSize  int64 `json:"mediaSize"`
	RetryCount int   `json:"retryCount"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsDownloadable reports whether a New video passes the sync filter: public,
// fully processed, and not a live broadcast.
func (v *Video) IsDownloadable() bool {
	return v.PrivacyStatus == "public" &&
		v.UploadStatus == "processed" &&
		v.LiveBroadcastContent == "none"
}

// IsHistorical reports whether the video predates the channel's enrollment;
// only historical videos count toward historicalVideoSyncedSize.
func (v *Video) IsHistorical(channelEnrolledAt time.Time) bool {
	return v.PublishedAt.Before(channelEnrolledAt)
}
