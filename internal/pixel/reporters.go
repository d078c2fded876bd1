package pixel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ghostlayer/server/internal/campaign"
)

// Reporter delivers one event to one ad platform.
type Reporter interface {
	Platform() string
	// Enabled reports whether the campaign carries credentials for this platform.
	Enabled(c campaign.Campaign) bool
	Send(ctx context.Context, c campaign.Campaign, e Event) error
}

// PlatformError is a non-success answer from a platform API.
type PlatformError struct {
	Platform   string
	StatusCode int
	Message    string
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Platform, e.StatusCode, e.Message)
}

const maxResponseBody = 64 << 10

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload interface{}) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

func ok(status int) bool { return status >= 200 && status < 300 }

// MetaReporter sends to the Meta Conversions API.
type MetaReporter struct {
	BaseURL string
	Client  *http.Client
}

func (r *MetaReporter) Platform() string { return PlatformMeta }

func (r *MetaReporter) Enabled(c campaign.Campaign) bool { return c.HasMeta() }

type metaEvent struct {
	EventName    string                 `json:"event_name"`
	EventTime    int64                  `json:"event_time"`
	ActionSource string                 `json:"action_source"`
	UserData     UserData               `json:"user_data"`
	CustomData   map[string]interface{} `json:"custom_data,omitempty"`
}

func (r *MetaReporter) Send(ctx context.Context, c campaign.Campaign, e Event) error {
	payload := map[string]interface{}{
		"data": []metaEvent{{
			EventName:    e.EventName,
			EventTime:    e.EventTime,
			ActionSource: "website",
			UserData:     e.UserData,
			CustomData:   e.CustomData,
		}},
		"access_token": c.MetaAccessToken,
	}

	url := fmt.Sprintf("%s/%s/events", strings.TrimRight(r.BaseURL, "/"), c.MetaPixelID)
	status, raw, err := postJSON(ctx, r.Client, url, nil, payload)
	if err != nil {
		return fmt.Errorf("meta: %w", err)
	}
	if ok(status) {
		return nil
	}

	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := "Failed to send Meta event"
	if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
		msg = body.Error.Message
	}
	return &PlatformError{Platform: PlatformMeta, StatusCode: status, Message: msg}
}

// TikTokReporter sends to the TikTok Events API. TikTok answers 200 with a
// non-zero code on rejection.
type TikTokReporter struct {
	BaseURL string
	Client  *http.Client
}

func (r *TikTokReporter) Platform() string { return PlatformTikTok }

func (r *TikTokReporter) Enabled(c campaign.Campaign) bool { return c.HasTikTok() }

func (r *TikTokReporter) Send(ctx context.Context, c campaign.Campaign, e Event) error {
	payload := map[string]interface{}{
		"pixel_code": c.TikTokPixelID,
		"event":      e.EventName,
		"event_time": e.EventTime,
		"context": map[string]string{
			"user_agent": e.UserData.ClientUserAgent,
			"ip":         e.UserData.ClientIPAddress,
		},
		"properties": e.CustomData,
	}

	url := strings.TrimRight(r.BaseURL, "/") + "/event/track/"
	status, raw, err := postJSON(ctx, r.Client, url, map[string]string{"Access-Token": c.TikTokAccessToken}, payload)
	if err != nil {
		return fmt.Errorf("tiktok: %w", err)
	}

	var body struct {
		Code    *int   `json:"code"`
		Message string `json:"message"`
	}
	parsed := json.Unmarshal(raw, &body) == nil
	if ok(status) && parsed && body.Code != nil && *body.Code == 0 {
		return nil
	}

	msg := body.Message
	if msg == "" {
		msg = "Failed to send TikTok event"
	}
	return &PlatformError{Platform: PlatformTikTok, StatusCode: status, Message: msg}
}

// GoogleReporter posts to the Google Ads conversion endpoint. Only the
// status code is meaningful.
type GoogleReporter struct {
	BaseURL string
	Client  *http.Client
}

func (r *GoogleReporter) Platform() string { return PlatformGoogle }

func (r *GoogleReporter) Enabled(c campaign.Campaign) bool { return c.HasGoogle() }

func (r *GoogleReporter) Send(ctx context.Context, c campaign.Campaign, e Event) error {
	payload := map[string]interface{}{
		"conversion_label": c.GoogleConversionLabel,
		"conversion_time":  e.EventTime,
		"user_agent":       e.UserData.ClientUserAgent,
		"user_ip":          e.UserData.ClientIPAddress,
	}

	url := fmt.Sprintf("%s/%s/", strings.TrimRight(r.BaseURL, "/"), c.GoogleAdsID)
	status, _, err := postJSON(ctx, r.Client, url, nil, payload)
	if err != nil {
		return fmt.Errorf("google: %w", err)
	}
	if !ok(status) {
		return &PlatformError{Platform: PlatformGoogle, StatusCode: status, Message: http.StatusText(status)}
	}
	return nil
}
