package youtube

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/joystream/youtube-synch-go/internal/config"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"PT4M13S", 253, false},
		{"PT1H2M3S", 3723, false},
		{"PT45S", 45, false},
		{"PT2H", 7200, false},
		{"PT0S", 0, false},
		{"4M13S", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMapAPIError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "quota exceeded",
			err: &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{
				{Reason: "quotaExceeded"},
			}},
			want: ErrQuotaLimitExceeded,
		},
		{
			name: "rate limited maps to quota kind",
			err: &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{
				{Reason: "rateLimitExceeded"},
			}},
			want: ErrQuotaLimitExceeded,
		},
		{
			name: "forbidden without quota reason is auth",
			err:  &googleapi.Error{Code: 403},
			want: ErrUnauthorized,
		},
		{
			name: "unauthorized",
			err:  &googleapi.Error{Code: 401},
			want: ErrUnauthorized,
		},
		{
			name: "not found",
			err:  &googleapi.Error{Code: 404},
			want: ErrChannelNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapAPIError(tt.err), tt.want)
		})
	}
}

func TestMapAPIErrorPassthrough(t *testing.T) {
	serverErr := &googleapi.Error{Code: 500}
	got := mapAPIError(serverErr)
	assert.NotErrorIs(t, got, ErrUnauthorized)
	assert.NotErrorIs(t, got, ErrQuotaLimitExceeded)
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(config.YoutubeConfig{})
	assert.Error(t, err)

	_, err = NewClient(config.YoutubeConfig{ClientID: "id", ClientSecret: "secret"})
	assert.NoError(t, err)
}

func TestCheckOnboardingCriteria(t *testing.T) {
	req := config.OnboardingConfig{
		MinimumSubscribersCount: 50,
		MinimumVideosCount:      5,
		MinimumChannelAgeHours:  720,
	}
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	healthy := &ChannelMetadata{
		SubscribersCount: 100,
		VideoCount:       20,
		PublishedAt:      now.Add(-2000 * time.Hour),
	}
	assert.NoError(t, CheckOnboardingCriteria(healthy, req, false, now))

	tooSmall := *healthy
	tooSmall.SubscribersCount = 10
	err := CheckOnboardingCriteria(&tooSmall, req, false, now)
	assert.ErrorIs(t, err, ErrCriteriaSubscribers)

	// Whitelisting bypasses every requirement.
	assert.NoError(t, CheckOnboardingCriteria(&tooSmall, req, true, now))

	tooFew := *healthy
	tooFew.VideoCount = 1
	assert.ErrorIs(t, CheckOnboardingCriteria(&tooFew, req, false, now), ErrCriteriaVideos)

	tooYoung := *healthy
	tooYoung.PublishedAt = now.Add(-24 * time.Hour)
	err = CheckOnboardingCriteria(&tooYoung, req, false, now)
	assert.ErrorIs(t, err, ErrCriteriaCreationDate)

	var criteria *CriteriaError
	require.ErrorAs(t, err, &criteria)
	assert.Equal(t, int64(24), criteria.Observed)
	assert.Equal(t, int64(720), criteria.Required)
}
