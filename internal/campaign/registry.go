// Package campaign resolves campaign IDs to their ad-platform pixel settings.
package campaign

import (
	"errors"
	"sort"
	"strings"

	"github.com/ghostlayer/server/internal/config"
)

var ErrUnknownCampaign = errors.New("unknown campaign")

type Campaign struct {
	ID                    string
	Name                  string
	MetaPixelID           string
	MetaAccessToken       string
	TikTokPixelID         string
	TikTokAccessToken     string
	GoogleAdsID           string
	GoogleConversionLabel string
}

func (c Campaign) HasMeta() bool { return c.MetaPixelID != "" && c.MetaAccessToken != "" }

func (c Campaign) HasTikTok() bool { return c.TikTokPixelID != "" && c.TikTokAccessToken != "" }

func (c Campaign) HasGoogle() bool { return c.GoogleAdsID != "" && c.GoogleConversionLabel != "" }

// Registry is an immutable set of campaigns keyed by lower-cased ID.
type Registry struct {
	campaigns map[string]Campaign
}

func NewRegistry(campaigns ...Campaign) *Registry {
	r := &Registry{campaigns: make(map[string]Campaign, len(campaigns))}
	for _, c := range campaigns {
		c.ID = strings.ToLower(c.ID)
		r.campaigns[c.ID] = c
	}
	return r
}

// FromConfig builds the registry from the campaigns section of the config.
func FromConfig(cfg map[string]config.CampaignConfig) *Registry {
	campaigns := make([]Campaign, 0, len(cfg))
	for id, c := range cfg {
		campaigns = append(campaigns, Campaign{
			ID:                    id,
			Name:                  c.Name,
			MetaPixelID:           c.MetaPixelID,
			MetaAccessToken:       c.MetaAccessToken,
			TikTokPixelID:         c.TikTokPixelID,
			TikTokAccessToken:     c.TikTokAccessToken,
			GoogleAdsID:           c.GoogleAdsID,
			GoogleConversionLabel: c.GoogleConversionLabel,
		})
	}
	return NewRegistry(campaigns...)
}

// Get looks a campaign up case-insensitively.
func (r *Registry) Get(id string) (Campaign, error) {
	c, ok := r.campaigns[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return Campaign{}, ErrUnknownCampaign
	}
	return c, nil
}

// IDs returns the campaign IDs in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.campaigns))
	for id := range r.campaigns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
