package models

import "time"

// WhitelistEntry exempts a channel handle from the onboarding requirements.
// Consulted only during creator onboarding.
type WhitelistEntry struct {
	ChannelHandle string    `json:"channelHandle"`
	CreatedAt     time.Time `json:"createdAt"`
}
