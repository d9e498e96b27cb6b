package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/joystream/youtube-synch-go/internal/db/models"
)

type mockCandidateLister struct {
	mock.Mock
}

func (m *mockCandidateLister) ListSyncCandidates(ctx context.Context) ([]*models.Channel, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*models.Channel), args.Error(1)
}

func channel(id string, status models.ChannelYppStatus, lastActed time.Time) *models.Channel {
	return &models.Channel{
		UserID:                 "user-" + id,
		ChannelID:              id,
		ShouldBeIngested:       true,
		AllowOperatorIngestion: true,
		YppStatus:              status,
		LastActedAt:            lastActed,
	}
}

func TestEligibleChannelsFiltering(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	verified := channel("UC-ok", models.VerifiedStatus("Gold"), t0)
	suspended := channel("UC-susp", models.SuspendedStatus("Legal"), t0.Add(time.Hour))
	optedOut := channel("UC-out", models.YppOptedOut, t0.Add(2*time.Hour))
	unverified := channel("UC-unv", models.YppUnverified, t0.Add(3*time.Hour))
	creatorPaused := channel("UC-paused", models.VerifiedStatus("Silver"), t0.Add(4*time.Hour))
	creatorPaused.ShouldBeIngested = false
	operatorHeld := channel("UC-held", models.VerifiedStatus("Silver"), t0.Add(5*time.Hour))
	operatorHeld.AllowOperatorIngestion = false

	lister := &mockCandidateLister{}
	lister.On("ListSyncCandidates", mock.Anything).Return(
		[]*models.Channel{verified, suspended, optedOut, unverified, creatorPaused, operatorHeld}, nil)

	view := NewView(lister)
	got, err := view.EligibleChannels(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "UC-ok", got[0].ChannelID)
}

func TestEligibleChannelsRoundRobin(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := channel("UC-a", models.VerifiedStatus("Bronze"), t0)
	b := channel("UC-b", models.VerifiedStatus("Bronze"), t0.Add(time.Hour))
	c := channel("UC-c", models.VerifiedStatus("Bronze"), t0.Add(2*time.Hour))

	lister := &mockCandidateLister{}
	lister.On("ListSyncCandidates", mock.Anything).Return([]*models.Channel{a, b, c}, nil)

	view := NewView(lister)
	ctx := context.Background()

	first, err := view.EligibleChannels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"UC-a", "UC-b", "UC-c"}, ids(first))

	second, err := view.EligibleChannels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"UC-b", "UC-c", "UC-a"}, ids(second))

	third, err := view.EligibleChannels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"UC-c", "UC-a", "UC-b"}, ids(third))
}

func TestEligibleChannelsStaleCursor(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := channel("UC-a", models.VerifiedStatus("Bronze"), t0)
	b := channel("UC-b", models.VerifiedStatus("Bronze"), t0.Add(time.Hour))

	lister := &mockCandidateLister{}
	lister.On("ListSyncCandidates", mock.Anything).Return([]*models.Channel{a, b}, nil).Once()
	// The previously-first channel disappears before the next cycle.
	lister.On("ListSyncCandidates", mock.Anything).Return([]*models.Channel{b}, nil).Once()

	view := NewView(lister)
	ctx := context.Background()

	first, err := view.EligibleChannels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"UC-a", "UC-b"}, ids(first))

	second, err := view.EligibleChannels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"UC-b"}, ids(second))
}

func ids(channels []*models.Channel) []string {
	out := make([]string, len(channels))
	for i, ch := range channels {
		out[i] = ch.ChannelID
	}
	return out
}
