package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
joystream:
  app:
    name: youtube-synch
    accountSeed: "//Alice"
  channelCollaborator:
    memberId: "7"
    account: "5GrwvaEF"
endpoints:
  queryNode: http://localhost:8081/graphql
  joystreamNodeWs: ws://localhost:9944
directories:
  assets: /tmp/assets
limits:
  dailyApiQuota:
    sync: 9500
    signup: 500
  storage: 500G
intervals:
  youtubePolling: 30
  checkStorageNodeResponseTimes: 600
youtube:
  clientId: cid
  clientSecret: secret
env: test
creatorOnboardingRequirements:
  minimumSubscribersCount: 50
  minimumVideosCount: 5
  minimumChannelAgeHours: 720
httpApi:
  port: 3001
  ownerKey: operator-secret
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "youtube-synch", cfg.Joystream.App.Name)
	assert.Equal(t, "ws://localhost:9944", cfg.Endpoints.JoystreamNodeWs)
	assert.Equal(t, 9500, cfg.Limits.DailyAPIQuota.Sync)
	assert.Equal(t, 500, cfg.Limits.DailyAPIQuota.Signup)
	assert.Equal(t, 30, cfg.Intervals.YoutubePolling)
	assert.Equal(t, "operator-secret", cfg.HTTPApi.OwnerKey)

	size, err := cfg.StorageLimitBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(500)<<30, size)
}

func TestLoadMissingRequiredKey(t *testing.T) {
	_, err := Load(writeConfig(t, `
joystream: {app: {name: x}}
endpoints: {queryNode: http://qn}
directories: {assets: /tmp/a}
limits: {storage: 1G}
intervals: {youtubePolling: 30}
youtube: {clientId: a}
env: test
httpApi: {port: 1, ownerKey: k}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creatorOnboardingRequirements")
}

func TestLoadRejectsMissingOwnerKey(t *testing.T) {
	_, err := Load(writeConfig(t, `
joystream: {app: {name: x}}
endpoints: {queryNode: http://qn}
directories: {assets: /tmp/a}
limits: {storage: 1G}
intervals: {youtubePolling: 30}
youtube: {clientId: a}
env: test
creatorOnboardingRequirements: {minimumVideosCount: 1}
httpApi: {port: 1}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ownerKey")
}

func TestEncodeEnvKey(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"env", "YT_SYNCH__ENV"},
		{"intervals.youtubePolling", "YT_SYNCH__INTERVALS__YOUTUBE_POLLING"},
		{"limits.dailyApiQuota.sync", "YT_SYNCH__LIMITS__DAILY_API_QUOTA__SYNC"},
		{"httpApi.ownerKey", "YT_SYNCH__HTTP_API__OWNER_KEY"},
		{"endpoints.joystreamNodeWs", "YT_SYNCH__ENDPOINTS__JOYSTREAM_NODE_WS"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, EncodeEnvKey(tt.path))
		})
	}
}

// Decoding the derived name must yield the original dotted path for every
// recognized path.
func TestEnvKeyRoundTrip(t *testing.T) {
	paths := []string{
		"env",
		"joystream.app.name",
		"joystream.app.accountSeed",
		"joystream.channelCollaborator.memberId",
		"endpoints.queryNode",
		"endpoints.joystreamNodeWs",
		"endpoints.redis.host",
		"directories.assets",
		"limits.dailyApiQuota.sync",
		"limits.dailyApiQuota.signup",
		"limits.maxConcurrentDownloads",
		"limits.pendingDownloadTimeoutSec",
		"limits.storage",
		"intervals.youtubePolling",
		"intervals.contentProcessing",
		"intervals.checkStorageNodeResponseTimes",
		"youtube.clientId",
		"youtube.clientSecret",
		"youtube.maxAllowedQuotaUsageInBatchMode",
		"creatorOnboardingRequirements.minimumSubscribersCount",
		"creatorOnboardingRequirements.minimumChannelAgeHours",
		"httpApi.port",
		"httpApi.ownerKey",
	}

	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			decoded, ok := DecodeEnvKey(EncodeEnvKey(path))
			require.True(t, ok)
			assert.Equal(t, path, decoded)
		})
	}
}

func TestDecodeEnvKeyForeignName(t *testing.T) {
	_, ok := DecodeEnvKey("PATH")
	assert.False(t, ok)

	_, ok = DecodeEnvKey("YT_SYNCH__")
	assert.False(t, ok)
}

func TestApplyEnvOverrides(t *testing.T) {
	v := viper.New()
	v.Set("intervals.youtubePolling", 30)
	v.Set("youtube.clientId", "original")
	v.Set("youtube.adcKeyFilePath", "/keys/adc.json")

	applyEnvOverrides(v, []string{
		"YT_SYNCH__INTERVALS__YOUTUBE_POLLING=5",
		"YT_SYNCH__YOUTUBE__CLIENT_ID=overridden",
		"YT_SYNCH__YOUTUBE__ADC_KEY_FILE_PATH=off",
		"UNRELATED=value",
	})

	assert.Equal(t, 5, v.GetInt("intervals.youtubePolling"))
	assert.Equal(t, "overridden", v.GetString("youtube.clientId"))
	assert.Empty(t, v.GetString("youtube.adcKeyFilePath"))
}

func TestApplyEnvOverridesJSONArray(t *testing.T) {
	v := viper.New()
	applyEnvOverrides(v, []string{
		`YT_SYNCH__ENDPOINTS__QUERY_NODE=["http://a/graphql","http://b/graphql"]`,
	})

	assert.Equal(t, []string{"http://a/graphql", "http://b/graphql"}, v.GetStringSlice("endpoints.queryNode"))
}

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"500G", 500 << 30, false},
		{"1T", 1 << 40, false},
		{"100M", 100 << 20, false},
		{"64K", 64 << 10, false},
		{"1048576", 1 << 20, false},
		{"", 0, true},
		{"12X3", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseByteSize(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
