package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/joystream/youtube-synch-go/internal/config"
	"github.com/joystream/youtube-synch-go/internal/db"
	"github.com/joystream/youtube-synch-go/internal/db/models"
	"github.com/joystream/youtube-synch-go/internal/db/repository"
	"github.com/joystream/youtube-synch-go/internal/metrics"
	"github.com/joystream/youtube-synch-go/internal/sync/quota"
)

type mockChannelRepo struct {
	mock.Mock
}

func (m *mockChannelRepo) Upsert(ctx context.Context, channel *models.Channel) error {
	args := m.Called(ctx, channel)
	return args.Error(0)
}

func (m *mockChannelRepo) Get(ctx context.Context, userID, channelID string) (*models.Channel, error) {
	args := m.Called(ctx, userID, channelID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Channel), args.Error(1)
}

func (m *mockChannelRepo) GetByChannelID(ctx context.Context, channelID string) (*models.Channel, error) {
	args := m.Called(ctx, channelID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Channel), args.Error(1)
}

func (m *mockChannelRepo) GetByJoystreamID(ctx context.Context, joystreamChannelID int64) (*models.Channel, error) {
	args := m.Called(ctx, joystreamChannelID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Channel), args.Error(1)
}

func (m *mockChannelRepo) ListByReferrer(ctx context.Context, referrerChannelID int64) ([]*models.Channel, error) {
	args := m.Called(ctx, referrerChannelID)
	return args.Get(0).([]*models.Channel), args.Error(1)
}

func (m *mockChannelRepo) ListRecentVerified(ctx context.Context, limit int) ([]*models.Channel, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]*models.Channel), args.Error(1)
}

func (m *mockChannelRepo) ListSyncCandidates(ctx context.Context) ([]*models.Channel, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*models.Channel), args.Error(1)
}

func (m *mockChannelRepo) BatchUpsert(ctx context.Context, channels []*models.Channel) error {
	args := m.Called(ctx, channels)
	return args.Error(0)
}

func (m *mockChannelRepo) SetYppStatus(ctx context.Context, channelID string, status models.ChannelYppStatus) error {
	args := m.Called(ctx, channelID, status)
	return args.Error(0)
}

func (m *mockChannelRepo) AddHistoricalSyncedSize(ctx context.Context, channelID string, delta int64) error {
	args := m.Called(ctx, channelID, delta)
	return args.Error(0)
}

func (m *mockChannelRepo) RecordCreatorAction(ctx context.Context, userID, channelID string, actedAt time.Time, patch repository.ChannelPatch) error {
	args := m.Called(ctx, userID, channelID, actedAt, patch)
	return args.Error(0)
}

type mockVideoRepo struct {
	mock.Mock
}

func (m *mockVideoRepo) Upsert(ctx context.Context, video *models.Video) error {
	args := m.Called(ctx, video)
	return args.Error(0)
}

func (m *mockVideoRepo) Get(ctx context.Context, channelID, videoID string) (*models.Video, error) {
	args := m.Called(ctx, channelID, videoID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Video), args.Error(1)
}

func (m *mockVideoRepo) BatchUpsert(ctx context.Context, videos []*models.Video) error {
	args := m.Called(ctx, videos)
	return args.Error(0)
}

func (m *mockVideoRepo) ListByState(ctx context.Context, state models.VideoState, limit int) ([]*models.Video, error) {
	args := m.Called(ctx, state, limit)
	return args.Get(0).([]*models.Video), args.Error(1)
}

func (m *mockVideoRepo) ListByChannel(ctx context.Context, channelID string) ([]*models.Video, error) {
	args := m.Called(ctx, channelID)
	return args.Get(0).([]*models.Video), args.Error(1)
}

func (m *mockVideoRepo) GetAllUnsyncedVideos(ctx context.Context) ([]*models.Video, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*models.Video), args.Error(1)
}

func (m *mockVideoRepo) GetAllVideosInPendingUploadState(ctx context.Context, limit int) ([]*models.Video, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]*models.Video), args.Error(1)
}

func (m *mockVideoRepo) TransitionState(ctx context.Context, channelID, videoID string, to models.VideoState, mutate func(*models.Video)) error {
	args := m.Called(ctx, channelID, videoID, to, mutate)
	return args.Error(0)
}

func (m *mockVideoRepo) SetMediaSize(ctx context.Context, channelID, videoID string, size int64) error {
	args := m.Called(ctx, channelID, videoID, size)
	return args.Error(0)
}

func (m *mockVideoRepo) IncrementRetryCount(ctx context.Context, channelID, videoID string) error {
	args := m.Called(ctx, channelID, videoID)
	return args.Error(0)
}

func (m *mockVideoRepo) CountByState(ctx context.Context) (map[models.VideoState]int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(map[models.VideoState]int64), args.Error(1)
}

type mockWhitelistRepo struct {
	mock.Mock
}

func (m *mockWhitelistRepo) Add(ctx context.Context, channelHandle string) error {
	args := m.Called(ctx, channelHandle)
	return args.Error(0)
}

func (m *mockWhitelistRepo) Remove(ctx context.Context, channelHandle string) error {
	args := m.Called(ctx, channelHandle)
	return args.Error(0)
}

func (m *mockWhitelistRepo) Exists(ctx context.Context, channelHandle string) (bool, error) {
	args := m.Called(ctx, channelHandle)
	return args.Bool(0), args.Error(1)
}

func (m *mockWhitelistRepo) List(ctx context.Context) ([]*models.WhitelistEntry, error) {
	args := m.Called(ctx)
	return args.Get(0).([]*models.WhitelistEntry), args.Error(1)
}

func newTestServer(channels *mockChannelRepo, videos *mockVideoRepo, whitelist *mockWhitelistRepo) *Server {
	return NewServer(
		config.HTTPApiConfig{Port: 0, OwnerKey: "operator-secret"},
		channels, videos, whitelist,
		quota.NewManager(10, 5, nil),
		metrics.New(),
		nil,
	)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(&mockChannelRepo{}, &mockVideoRepo{}, &mockWhitelistRepo{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "UP")
}

func TestStatus(t *testing.T) {
	videos := &mockVideoRepo{}
	videos.On("CountByState", mock.Anything).Return(map[models.VideoState]int64{
		models.StateNew:             3,
		models.StateUploadSucceeded: 7,
	}, nil)

	s := newTestServer(&mockChannelRepo{}, videos, &mockWhitelistRepo{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "UploadSucceeded")
	assert.Contains(t, rec.Body.String(), "sync")
}

func TestOperatorAuthRequired(t *testing.T) {
	s := newTestServer(&mockChannelRepo{}, &mockVideoRepo{}, &mockWhitelistRepo{})

	body := strings.NewReader(`{"reason":"Legal"}`)
	req := httptest.NewRequest(http.MethodPost, "/operator/channels/UC-one/suspend", body)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/operator/channels/UC-one/suspend", strings.NewReader(`{"reason":"Legal"}`))
	req.Header.Set("Authorization", "Bearer wrong-key")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOperatorSuspend(t *testing.T) {
	channels := &mockChannelRepo{}
	channels.On("SetYppStatus", mock.Anything, "UC-one", models.SuspendedStatus("Legal")).Return(nil)

	s := newTestServer(channels, &mockVideoRepo{}, &mockWhitelistRepo{})

	req := httptest.NewRequest(http.MethodPost, "/operator/channels/UC-one/suspend",
		strings.NewReader(`{"reason":"Legal"}`))
	req.Header.Set("Authorization", "Bearer operator-secret")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	channels.AssertExpectations(t)
}

// The creator ingest action is accepted only with a timestamp strictly newer
// than the stored one.
func TestIngestChannelReplayGuard(t *testing.T) {
	channels := &mockChannelRepo{}
	channels.On("RecordCreatorAction", mock.Anything, "user-1", "UC-one", mock.Anything, mock.Anything).
		Return(db.ErrStaleAction)

	s := newTestServer(channels, &mockVideoRepo{}, &mockWhitelistRepo{})

	req := httptest.NewRequest(http.MethodPost, "/channels/user-1/UC-one/ingest",
		strings.NewReader(`{"timestamp":"2024-06-01T12:00:00Z","shouldBeIngested":false}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWhitelistRoutes(t *testing.T) {
	whitelist := &mockWhitelistRepo{}
	whitelist.On("Add", mock.Anything, "somehandle").Return(nil)
	whitelist.On("List", mock.Anything).Return([]*models.WhitelistEntry{
		{ChannelHandle: "somehandle"},
	}, nil)

	s := newTestServer(&mockChannelRepo{}, &mockVideoRepo{}, whitelist)

	req := httptest.NewRequest(http.MethodPut, "/operator/whitelist/somehandle", nil)
	req.Header.Set("X-API-Key", "operator-secret")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/operator/whitelist", nil)
	req.Header.Set("X-API-Key", "operator-secret")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "somehandle")
}
