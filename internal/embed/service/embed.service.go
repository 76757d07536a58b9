package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"canvasboard/pkg/logger"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const (
	mapsEmbedURL    = "https://www.google.com/maps/embed/v1/search"
	youtubeEmbedURL = "https://www.youtube.com/embed/"
)

var (
	ErrMapsDisabled    = errors.New("Google Maps API key not configured")
	ErrYouTubeDisabled = errors.New("YouTube API key not configured")
	ErrNoVideo         = errors.New("no YouTube results found")
	ErrEmptyQuery      = errors.New("query must not be empty")
)

type MapsEmbed struct {
	Query    string `json:"query"`
	EmbedURL string `json:"embed_url"`
}

type VideoEmbed struct {
	VideoID  string `json:"video_id"`
	Title    string `json:"title"`
	EmbedURL string `json:"embed_url"`
}

type EmbedService struct {
	MapsKey        string
	YouTubeKey string
	// YouTubeBaseURL overrides the Data API root; empty uses the library default.
	YouTubeBaseURL string
	Timeout        time.Duration
}

func NewEmbedService(mapsKey, youtubeKey, youtubeBaseURL string) *EmbedService {
	if mapsKey == "" {
		logger.Sugar.Warn("Google Maps API key not configured. Maps embeds will be disabled.")
	}
	if youtubeKey == "" {
		logger.Sugar.Warn("YouTube API key not configured. YouTube embeds will be disabled.")
	}
	if youtubeBaseURL != "" && !strings.HasSuffix(youtubeBaseURL, "/") {
		youtubeBaseURL += "/"
	}
	return &EmbedService{
		MapsKey:        mapsKey,
		YouTubeKey:     youtubeKey,
		YouTubeBaseURL: youtubeBaseURL,
		Timeout:        10 * time.Second,
	}
}

// MapsEmbedURL builds a Maps search embed, centred on lat/lng when both are set.
func (s *EmbedService) MapsEmbedURL(query string, lat, lng *float64) (*MapsEmbed, error) {
	if s.MapsKey == "" {
		return nil, ErrMapsDisabled
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	params := url.Values{}
	params.Set("key", s.MapsKey)
	params.Set("q", query)
	if lat != nil && lng != nil {
		params.Set("center", strconv.FormatFloat(*lat, 'f', -1, 64)+","+strconv.FormatFloat(*lng, 'f', -1, 64))
		params.Set("zoom", "14")
	}
	logger.Sugar.Infof("Created Google Maps embed for query: %s", query)
	return &MapsEmbed{Query: query, EmbedURL: mapsEmbedURL + "?" + params.Encode()}, nil
}

// SearchVideo returns the most relevant video for query.
func (s *EmbedService) SearchVideo(ctx context.Context, query string) (*VideoEmbed, error) {
	if s.YouTubeKey == "" {
		return nil, ErrYouTubeDisabled
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	opts := []option.ClientOption{option.WithAPIKey(s.YouTubeKey)}
	if s.YouTubeBaseURL != "" {
		opts = append(opts, option.WithEndpoint(s.YouTubeBaseURL))
	}
	yt, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("youtube client: %w", err)
	}

	result, err := yt.Search.List([]string{"id", "snippet"}).
		Q(query).
		MaxResults(1).
		Type("video").
		Order("relevance").
		SafeSearch("moderate").
		Context(ctx).
		Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			logger.Sugar.Errorf("YouTube API error searching for %q: %d %s", query, apiErr.Code, apiErr.Message)
		}
		return nil, fmt.Errorf("youtube search: %w", err)
	}
	if len(result.Items) == 0 || result.Items[0].Id == nil || result.Items[0].Id.VideoId == "" {
		logger.Sugar.Warnf("No YouTube results found for query: %s", query)
		return nil, ErrNoVideo
	}

	item := result.Items[0]
	var title string
	if item.Snippet != nil {
		title = item.Snippet.Title
	}
	logger.Sugar.Infof("Found YouTube video: %s (ID: %s)", title, item.Id.VideoId)
	return &VideoEmbed{
		VideoID:  item.Id.VideoId,
		Title:    title,
		EmbedURL: youtubeEmbedURL + url.PathEscape(item.Id.VideoId),
	}, nil
}
