// Package pixel reports human conversions to ad-platform server-side APIs.
// Bot traffic is never reported.
package pixel

import (
	"errors"
	"fmt"
	"time"
)

// ErrBotTraffic is returned when asked to report a visit judged to be a bot.
var ErrBotTraffic = errors.New("refusing to report bot traffic")

// Platform names.
const (
	PlatformMeta   = "meta"
	PlatformTikTok = "tiktok"
	PlatformGoogle = "google"
)

// Event is a platform-neutral conversion event.
type Event struct {
	EventName  string                 `json:"event_name"`
	EventTime  int64                  `json:"event_time"`
	UserData   UserData               `json:"user_data"`
	CustomData map[string]interface{} `json:"custom_data,omitempty"`
}

type UserData struct {
	ClientIPAddress string `json:"client_ip_address,omitempty"`
	ClientUserAgent string `json:"client_user_agent,omitempty"`
	FBP             string `json:"fbp,omitempty"`
	FBC             string `json:"fbc,omitempty"`
	ExternalID      string `json:"external_id,omitempty"`
}

// ClickIDs are the ad-platform click identifiers captured from the landing URL.
type ClickIDs struct {
	FBCLID  string `json:"fbclid,omitempty"`
	GCLID   string `json:"gclid,omitempty"`
	TTCLID  string `json:"ttclid,omitempty"`
	MSCLKID string `json:"msclkid,omitempty"`
}

// EventInput is everything BuildEvent needs about one visit.
type EventInput struct {
	EventName       string
	At              time.Time
	ClientIP        string
	UserAgent       string
	FingerprintHash string
	FBP             string
	ClickIDs        ClickIDs
	CustomData      map[string]interface{}
}

// BuildEvent assembles a conversion event. The fingerprint hash becomes the
// external ID, and an fbclid becomes a Meta fbc value stamped with At.
func BuildEvent(in EventInput) Event {
	e := Event{
		EventName: in.EventName,
		EventTime: in.At.Unix(),
		UserData: UserData{
			ClientIPAddress: in.ClientIP,
			ClientUserAgent: in.UserAgent,
			FBP:             in.FBP,
			ExternalID:      in.FingerprintHash,
		},
		CustomData: in.CustomData,
	}
	if in.ClickIDs.FBCLID != "" {
		e.UserData.FBC = fmt.Sprintf("fb.1.%d.%s", in.At.UnixMilli(), in.ClickIDs.FBCLID)
	}
	if e.EventName == "" {
		e.EventName = "PageView"
	}
	return e
}
