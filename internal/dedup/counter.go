// Package dedup counts fingerprint sightings per campaign so repeated
// clicks from the same browser can be flagged as duplicates.
package dedup

import (
	"context"
	"time"
)

// DefaultWindow is how long a sighting is remembered.
const DefaultWindow = 24 * time.Hour

// Sighting is the state of a fingerprint after recording one more click.
type Sighting struct {
	Count       int64
	DistinctIPs int64
}

// Duplicate reports whether the fingerprint was seen before in the window.
func (s Sighting) Duplicate() bool { return s.Count > 1 }

// Counter records fingerprint sightings. Implementations are safe for
// concurrent use.
type Counter interface {
	Record(ctx context.Context, campaignID, fingerprint, ip string) (Sighting, error)
}
