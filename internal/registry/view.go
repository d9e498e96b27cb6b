// Package registry provides the creator registry view: a read-only
// projection over the state store that enumerates eligible channels in a
// fair order.
package registry

import (
	"context"
	"sync"

	"github.com/joystream/youtube-synch-go/internal/db/models"
)

// CandidateLister is the slice of the channel repository the view reads.
type CandidateLister interface {
	ListSyncCandidates(ctx context.Context) ([]*models.Channel, error)
}

// View emits sync-eligible channels. Each cycle round-robins over channels
// ordered by lastActedAt ascending: the first cycle starts with the creator
// who acted longest ago, and each later cycle starts just past the channel
// served first in the cycle before. Suspended and opted-out channels are
// skipped outright.
type View struct {
	channels CandidateLister

	mu     sync.Mutex
	cursor string // channel id served first in the previous cycle
}

// NewView creates a registry view over the channel table.
func NewView(channels CandidateLister) *View {
	return &View{channels: channels}
}

// EligibleChannels returns the channels to poll this cycle, in order.
func (v *View) EligibleChannels(ctx context.Context) ([]*models.Channel, error) {
	all, err := v.channels.ListSyncCandidates(ctx)
	if err != nil {
		return nil, err
	}

	eligible := make([]*models.Channel, 0, len(all))
	for _, ch := range all {
		if ch.IsExcludedFromRegistry() {
			continue
		}
		if !ch.IsSyncCandidate() {
			continue
		}
		eligible = append(eligible, ch)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	rotated := rotateAfter(eligible, v.cursor)
	if len(rotated) > 0 {
		v.cursor = rotated[0].ChannelID
	}
	return rotated, nil
}

// rotateAfter starts the slice just past the channel served first last cycle,
// wrapping around. With a stale or empty cursor the order is unchanged.
func rotateAfter(channels []*models.Channel, cursor string) []*models.Channel {
	if cursor == "" || len(channels) < 2 {
		return channels
	}

	idx := -1
	for i, ch := range channels {
		if ch.ChannelID == cursor {
			idx = i
			break
		}
	}
	if idx < 0 {
		return channels
	}

	start := (idx + 1) % len(channels)
	rotated := make([]*models.Channel, 0, len(channels))
	rotated = append(rotated, channels[start:]...)
	rotated = append(rotated, channels[:start]...)
	return rotated
}
