// Package youtube wraps the YouTube Data API v3 for channel and upload
// discovery, authenticated per channel with the creator's OAuth tokens.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	youtube "google.golang.org/api/youtube/v3"

	"github.com/joystream/youtube-synch-go/internal/config"
	"github.com/joystream/youtube-synch-go/internal/db/models"
)

const playlistPageSize = 50

// ChannelMetadata is the subset of channel data the sync engine consumes.
type ChannelMetadata struct {
	ID                string
	Title             string
	Description       string
	ThumbnailURL      string
	UploadsPlaylistID string
	SubscribersCount  int64
	VideoCount        int64
	PublishedAt       time.Time
	Language          string
}

// VideoMetadata is one upload as reported by the platform.
type VideoMetadata struct {
	ID                   string
	ChannelID            string
	Title                string
	Description          string
	DurationSeconds      int
	ThumbnailURL         string
	PublishedAt          time.Time
	UploadStatus         string
	PrivacyStatus        string
	LiveBroadcastContent string
	License              string
	Container            string
	ViewCount            int64
}

// Client talks to the YouTube Data API on behalf of enrolled channels.
type Client struct {
	oauth oauth2.Config
}

// NewClient creates a client from the configured OAuth application.
func NewClient(cfg config.YoutubeConfig) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("youtube client id and secret are required")
	}

	return &Client{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     googleoauth.Endpoint,
			Scopes:       []string{youtube.YoutubeReadonlyScope},
		},
	}, nil
}

// serviceFor builds an API service authorized as the channel owner. Token
// refresh is handled by the oauth2 token source.
func (c *Client) serviceFor(ctx context.Context, channel *models.Channel) (*youtube.Service, error) {
	token := &oauth2.Token{
		AccessToken:  channel.AccessToken,
		RefreshToken: channel.RefreshToken,
		Expiry:       time.Now().Add(-time.Minute), // force refresh through the source
	}

	source := c.oauth.TokenSource(ctx, token)
	service, err := youtube.NewService(ctx, option.WithTokenSource(source))
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	return service, nil
}

// GetChannel fetches the channel's own metadata, including the uploads
// playlist id needed for discovery.
func (c *Client) GetChannel(ctx context.Context, channel *models.Channel) (*ChannelMetadata, error) {
	service, err := c.serviceFor(ctx, channel)
	if err != nil {
		return nil, err
	}

	call := service.Channels.
		List([]string{"snippet", "contentDetails", "statistics"}).
		Id(channel.ChannelID).
		Context(ctx)

	response, err := call.Do()
	if err != nil {
		return nil, mapAPIError(err)
	}
	if len(response.Items) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, channel.ChannelID)
	}

	item := response.Items[0]
	meta := &ChannelMetadata{
		ID:               item.Id,
		Title:            item.Snippet.Title,
		Description:      item.Snippet.Description,
		Language:         item.Snippet.DefaultLanguage,
		SubscribersCount: int64(item.Statistics.SubscriberCount),
		VideoCount:       int64(item.Statistics.VideoCount),
	}
	if item.Snippet.Thumbnails != nil && item.Snippet.Thumbnails.High != nil {
		meta.ThumbnailURL = item.Snippet.Thumbnails.High.Url
	}
	if item.ContentDetails != nil && item.ContentDetails.RelatedPlaylists != nil {
		meta.UploadsPlaylistID = item.ContentDetails.RelatedPlaylists.Uploads
	}
	if t, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
		meta.PublishedAt = t
	}

	return meta, nil
}

// ListUploads walks the channel's uploads playlist and resolves full video
// details in batches of 50. The returned cost is the number of quota units
// the walk consumed (one per playlist page plus one per details batch).
func (c *Client) ListUploads(ctx context.Context, channel *models.Channel) ([]*VideoMetadata, int, error) {
	service, err := c.serviceFor(ctx, channel)
	if err != nil {
		return nil, 0, err
	}

	playlistID := channel.UploadsPlaylistID
	if playlistID == "" {
		meta, err := c.GetChannel(ctx, channel)
		if err != nil {
			return nil, 1, err
		}
		playlistID = meta.UploadsPlaylistID
	}

	var videoIDs []string
	cost := 0
	pageToken := ""
	for {
		call := service.PlaylistItems.
			List([]string{"contentDetails"}).
			PlaylistId(playlistID).
			MaxResults(playlistPageSize).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		response, err := call.Do()
		cost++
		if err != nil {
			return nil, cost, mapAPIError(err)
		}

		for _, item := range response.Items {
			videoIDs = append(videoIDs, item.ContentDetails.VideoId)
		}

		pageToken = response.NextPageToken
		if pageToken == "" {
			break
		}
	}

	var videos []*VideoMetadata
	for start := 0; start < len(videoIDs); start += playlistPageSize {
		end := start + playlistPageSize
		if end > len(videoIDs) {
			end = len(videoIDs)
		}

		batch, err := c.getVideos(ctx, service, videoIDs[start:end])
		cost++
		if err != nil {
			return nil, cost, err
		}
		videos = append(videos, batch...)
	}

	return videos, cost, nil
}

// GetVideo resolves one video's details; absent or deleted uploads surface
// as ErrVideoNotFound.
func (c *Client) GetVideo(ctx context.Context, channel *models.Channel, videoID string) (*VideoMetadata, error) {
	service, err := c.serviceFor(ctx, channel)
	if err != nil {
		return nil, err
	}

	batch, err := c.getVideos(ctx, service, []string{videoID})
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrVideoNotFound, videoID)
	}
	return batch[0], nil
}

func (c *Client) getVideos(ctx context.Context, service *youtube.Service, ids []string) ([]*VideoMetadata, error) {
	call := service.Videos.
		List([]string{"snippet", "contentDetails", "statistics", "status"}).
		Id(ids...).
		Context(ctx)

	response, err := call.Do()
	if err != nil {
		return nil, mapAPIError(err)
	}

	videos := make([]*VideoMetadata, 0, len(response.Items))
	for _, item := range response.Items {
		videos = append(videos, mapVideo(item))
	}
	return videos, nil
}

func mapVideo(item *youtube.Video) *VideoMetadata {
	video := &VideoMetadata{
		ID:        item.Id,
		Container: "mp4",
	}

	if item.Snippet != nil {
		video.ChannelID = item.Snippet.ChannelId
		video.Title = item.Snippet.Title
		video.Description = item.Snippet.Description
		video.LiveBroadcastContent = item.Snippet.LiveBroadcastContent
		if item.Snippet.Thumbnails != nil && item.Snippet.Thumbnails.High != nil {
			video.ThumbnailURL = item.Snippet.Thumbnails.High.Url
		}
		if t, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
			video.PublishedAt = t
		}
	}

	if item.ContentDetails != nil {
		if seconds, err := ParseDuration(item.ContentDetails.Duration); err == nil {
			video.DurationSeconds = seconds
		}
	}

	if item.Status != nil {
		video.UploadStatus = item.Status.UploadStatus
		video.PrivacyStatus = item.Status.PrivacyStatus
		video.License = item.Status.License
	}

	if item.Statistics != nil {
		video.ViewCount = int64(item.Statistics.ViewCount)
	}

	return video
}

// mapAPIError maps googleapi failures onto the metadata error kinds.
func mapAPIError(err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return err
	}

	switch apiErr.Code {
	case 401:
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	case 403:
		for _, e := range apiErr.Errors {
			switch e.Reason {
			case "quotaExceeded", "dailyLimitExceeded", "rateLimitExceeded":
				return fmt.Errorf("%w: %v", ErrQuotaLimitExceeded, err)
			}
		}
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	case 404:
		return fmt.Errorf("%w: %v", ErrChannelNotFound, err)
	default:
		return err
	}
}

// CheckOnboardingCriteria verifies a channel against the configured
// creator onboarding requirements. Whitelisted handles bypass all checks.
func CheckOnboardingCriteria(meta *ChannelMetadata, req config.OnboardingConfig, whitelisted bool, now time.Time) error {
	if whitelisted {
		return nil
	}

	if meta.SubscribersCount < int64(req.MinimumSubscribersCount) {
		return &CriteriaError{Kind: ErrCriteriaSubscribers, Observed: meta.SubscribersCount, Required: int64(req.MinimumSubscribersCount)}
	}
	if meta.VideoCount < int64(req.MinimumVideosCount) {
		return &CriteriaError{Kind: ErrCriteriaVideos, Observed: meta.VideoCount, Required: int64(req.MinimumVideosCount)}
	}

	minAge := time.Duration(req.MinimumChannelAgeHours) * time.Hour
	age := now.Sub(meta.PublishedAt)
	if age < minAge {
		return &CriteriaError{Kind: ErrCriteriaCreationDate, Observed: int64(age.Hours()), Required: int64(req.MinimumChannelAgeHours)}
	}

	return nil
}

// ParseDuration converts an ISO 8601 duration ("PT4M13S") to seconds.
func ParseDuration(duration string) (int, error) {
	if !strings.HasPrefix(duration, "PT") {
		return 0, fmt.Errorf("invalid duration format: %s", duration)
	}
	duration = strings.TrimPrefix(duration, "PT")

	var hours, minutes, seconds int

	if idx := strings.Index(duration, "H"); idx != -1 {
		h, err := strconv.Atoi(duration[:idx])
		if err != nil {
			return 0, err
		}
		hours = h
		duration = duration[idx+1:]
	}

	if idx := strings.Index(duration, "M"); idx != -1 {
		m, err := strconv.Atoi(duration[:idx])
		if err != nil {
			return 0, err
		}
		minutes = m
		duration = duration[idx+1:]
	}

	if idx := strings.Index(duration, "S"); idx != -1 {
		s, err := strconv.Atoi(duration[:idx])
		if err != nil {
			return 0, err
		}
		seconds = s
	}

	return hours*3600 + minutes*60 + seconds, nil
}
