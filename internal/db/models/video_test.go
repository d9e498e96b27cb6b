package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from VideoState
		to   VideoState
		want bool
	}{
		{"new to created", StateNew, StateVideoCreated, true},
		{"new to creation failed", StateNew, StateVideoCreationFailed, true},
		{"new to unavailable", StateNew, StateVideoUnavailable, true},
		{"new refresh keeps new", StateNew, StateNew, true},
		{"creation failed retries to created", StateVideoCreationFailed, StateVideoCreated, true},
		{"created to upload succeeded", StateVideoCreated, StateUploadSucceeded, true},
		{"created to upload failed", StateVideoCreated, StateUploadFailed, true},
		{"upload failed retry succeeds", StateUploadFailed, StateUploadSucceeded, true},

		// No regressions, no edges out of sinks, no chain-record loss.
		{"created back to new", StateVideoCreated, StateNew, false},
		{"succeeded is terminal", StateUploadSucceeded, StateUploadFailed, false},
		{"unavailable is terminal", StateVideoUnavailable, StateNew, false},
		{"upload failed cannot lose chain record", StateUploadFailed, StateVideoUnavailable, false},
		{"new cannot skip to succeeded", StateNew, StateUploadSucceeded, false},
		{"unknown state", VideoState("Bogus"), StateNew, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

// Every state reachable with a chain record must keep it through all its
// outgoing edges, and only those states report HasChainRecord.
func TestChainRecordStates(t *testing.T) {
	withRecord := []VideoState{StateVideoCreated, StateUploadFailed, StateUploadSucceeded}
	withoutRecord := []VideoState{StateNew, StateVideoCreationFailed, StateVideoUnavailable}

	for _, s := range withRecord {
		assert.True(t, s.HasChainRecord(), string(s))
	}
	for _, s := range withoutRecord {
		assert.False(t, s.HasChainRecord(), string(s))
	}

	for _, from := range withRecord {
		for to := range validTransitions[from] {
			assert.True(t, to.HasChainRecord(),
				"edge %s -> %s would drop the chain record", from, to)
		}
	}
}

func TestIsDownloadable(t *testing.T) {
	video := Video{PrivacyStatus: "public", UploadStatus: "processed", LiveBroadcastContent: "none"}
	assert.True(t, video.IsDownloadable())

	private := video
	private.PrivacyStatus = "private"
	assert.False(t, private.IsDownloadable())

	live := video
	live.LiveBroadcastContent = "live"
	assert.False(t, live.IsDownloadable())

	uploading := video
	uploading.UploadStatus = "uploaded"
	assert.False(t, uploading.IsDownloadable())
}

func TestChannelIsSyncCandidate(t *testing.T) {
	base := Channel{
		ShouldBeIngested:       true,
		AllowOperatorIngestion: true,
		YppStatus:              VerifiedStatus("Bronze"),
	}
	assert.True(t, base.IsSyncCandidate())

	optOut := base
	optOut.ShouldBeIngested = false
	assert.False(t, optOut.IsSyncCandidate())

	operatorHold := base
	operatorHold.AllowOperatorIngestion = false
	assert.False(t, operatorHold.IsSyncCandidate())

	suspended := base
	suspended.YppStatus = SuspendedStatus("Legal")
	assert.False(t, suspended.IsSyncCandidate())
	assert.True(t, suspended.IsExcludedFromRegistry())

	unverified := base
	unverified.YppStatus = YppUnverified
	assert.False(t, unverified.IsSyncCandidate())
	assert.False(t, unverified.IsExcludedFromRegistry())
}

func TestIsHistorical(t *testing.T) {
	enrolled := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	old := Video{PublishedAt: enrolled.Add(-24 * time.Hour)}
	assert.True(t, old.IsHistorical(enrolled))

	fresh := Video{PublishedAt: enrolled.Add(24 * time.Hour)}
	assert.False(t, fresh.IsHistorical(enrolled))
}
