package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"canvasboard/pkg/logger"
)

const DefaultDailyBaseURL = "https://api.daily.co/v1"

var (
	ErrNotConfigured = errors.New("Daily.co API key not configured")
	ErrMissingRoom   = errors.New("room_id is required")
)

// ProviderError is a non-success answer from Daily.co.
type ProviderError struct {
	Status int
	Body   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("Failed to create Daily.co room: %s", e.Body)
}

type Room struct {
	URL      string `json:"url"`
	RoomName string `json:"room_name"`
	Created  bool   `json:"created"`
}

type dailyRoom struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type VideoService struct {
	APIKey  string
	BaseURL string
	HTTP    *http.Client
}

func NewVideoService(apiKey, baseURL string) *VideoService {
	if baseURL == "" {
		baseURL = DefaultDailyBaseURL
	}
	return &VideoService{
		APIKey:  apiKey,
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

// RoomName maps a canvas room to its video room.
func RoomName(canvasRoomID string) string {
	return "canvas-" + canvasRoomID
}

// GetOrCreateRoom returns the video room for a canvas, creating it on first use.
func (s *VideoService) GetOrCreateRoom(ctx context.Context, canvasRoomID string) (*Room, error) {
	if s.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(canvasRoomID) == "" {
		return nil, ErrMissingRoom
	}
	name := RoomName(canvasRoomID)

	existing, status, err := s.do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(name), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusOK {
		logger.Sugar.Infof("Found existing Daily.co room: %s", name)
		return &Room{URL: existing.URL, RoomName: existing.Name, Created: false}, nil
	}

	body := map[string]interface{}{
		"name": name,
		"properties": map[string]interface{}{
			"enable_screenshare": true,
			"enable_chat":        true,
			"start_video_off":    false,
			"start_audio_off":    false,
			"enable_recording":   "cloud",
		},
	}
	created, status, err := s.do(ctx, http.MethodPost, "/rooms", body)
	if err != nil {
		return nil, err
	}
	logger.Sugar.Infof("Created new Daily.co room: %s (status %d)", name, status)
	return &Room{URL: created.URL, RoomName: created.Name, Created: true}, nil
}

// do calls the Daily.co API. A failed GET is reported through the status so
// the caller can fall through to creation; other failures become ProviderError.
func (s *VideoService) do(ctx context.Context, method, path string, body interface{}) (*dailyRoom, int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.BaseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+s.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("daily request: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var room dailyRoom
		if err := json.Unmarshal(raw, &room); err != nil {
			return nil, resp.StatusCode, fmt.Errorf("decode daily room: %w", err)
		}
		return &room, resp.StatusCode, nil
	case method == http.MethodGet:
		return nil, resp.StatusCode, nil
	default:
		logger.Sugar.Errorf("Daily.co API error: %d - %s", resp.StatusCode, raw)
		return nil, resp.StatusCode, &ProviderError{Status: resp.StatusCode, Body: string(raw)}
	}
}
