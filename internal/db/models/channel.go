// Package models contains the persistent records of the sync state store.
package models

import (
	"strings"
	"time"
)

// ChannelYppStatus is the creator's partnership participation status.
// Verified and Suspended carry a tier or reason suffix after "::".
type ChannelYppStatus string

const (
	YppUnverified ChannelYppStatus = "Unverified"
	YppOptedOut   ChannelYppStatus = "OptedOut"

	yppVerifiedPrefix  = "Verified::"
	yppSuspendedPrefix = "Suspended::"
)

// VerifiedStatus builds a Verified status with the given tier, e.g.
// VerifiedStatus("Bronze") == "Verified::Bronze".
func VerifiedStatus(tier string) ChannelYppStatus {
	return ChannelYppStatus(yppVerifiedPrefix + tier)
}

// SuspendedStatus builds a Suspended status with the given reason.
func SuspendedStatus(reason string) ChannelYppStatus {
	return ChannelYppStatus(yppSuspendedPrefix + reason)
}

// IsVerified reports whether the status carries a Verified:: prefix.
func (s ChannelYppStatus) IsVerified() bool {
	return strings.HasPrefix(string(s), yppVerifiedPrefix)
}

// IsSuspended reports whether the status carries a Suspended:: prefix.
func (s ChannelYppStatus) IsSuspended() bool {
	return strings.HasPrefix(string(s), yppSuspendedPrefix)
}

// Channel mirrors one enrolled YouTube channel.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Channel struct {
	// Primary key.
	UserID    string `json:"userId"`
	ChannelID string `json:"channelId"`

	// External identity.
	Title        string `json:"title"`
	Description  string `json:"description"`
	ThumbnailURL string `json:"thumbnailUrl"`

	// Authorization.
	AccessToken       string `json:"-"`
	RefreshToken      string `json:"-"`
	UploadsPlaylistID string `json:"uploadsPlaylistId"`

	// Platform mapping.
	JoystreamChannelID int64  `json:"joystreamChannelId"`
	ReferrerChannelID  *int64 `json:"referrerChannelId,omitempty"`
	Language           string `json:"language"`
	DefaultCategory    string `json:"defaultCategory"`

	// Policy flags.
	ShouldBeIngested        bool `json:"shouldBeIngested"`
	AllowOperatorIngestion  bool `json:"allowOperatorIngestion"`
	PerformUnauthorizedSync bool `json:"performUnauthorizedSync"`

	YppStatus ChannelYppStatus `json:"yppStatus"`

	// Accounting.
	HistoricalVideoSyncedSize int64     `json:"historicalVideoSyncedSize"`
	SubscribersCount          int64     `json:"subscribersCount"`
	LastActedAt               time.Time `json:"lastActedAt"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsSyncCandidate reports whether the channel may be polled and synced:
// creator intent, operator intent, and a Verified status must all hold.
func (c *Channel) IsSyncCandidate() bool {
	return c.ShouldBeIngested && c.AllowOperatorIngestion && c.YppStatus.IsVerified()
}

// IsExcludedFromRegistry reports whether the registry view must skip the
// channel outright (suspended or opted out).
func (c *Channel) IsExcludedFromRegistry() bool {
	return c.YppStatus.IsSuspended() || c.YppStatus == YppOptedOut
}
