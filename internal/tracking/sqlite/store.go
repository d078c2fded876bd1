// Package sqlite is the SQLite-backed tracking.Store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ghostlayer/server/internal/detector"
	"github.com/ghostlayer/server/internal/pixel"
	"github.com/ghostlayer/server/internal/tracking"
)

// checkColumns maps probe names to their bot_detections columns.
var checkColumns = []struct {
	probe  string
	column string
}{
	{"userAgent", "user_agent_check"},
	{"referrer", "referrer_check"},
	{"headless", "headless_check"},
	{"webdriver", "webdriver_check"},
	{"canvas", "canvas_check"},
	{"webgl", "webgl_check"},
	{"plugins", "plugins_check"},
	{"localStorage", "local_storage_check"},
	{"indexedDB", "indexed_db_check"},
	{"fonts", "fonts_check"},
	{"timing", "timing_check"},
	{"mouse", "mouse_check"},
	{"touch", "touch_check"},
	{"battery", "battery_check"},
	{"connection", "connection_check"},
}

const clickColumns = `id, campaign_id, is_bot, confidence_score, detection_reason, fingerprint_hash,
	user_agent, ip_hash, browser, os, device_type,
	utm_source, utm_medium, utm_campaign, utm_content, utm_term, referrer,
	fbclid, gclid, ttclid, msclkid, is_duplicate, verified, created_at`

// Store implements tracking.Store on database/sql.
type Store struct {
	db *sql.DB
}

var _ tracking.Store = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens the database at path (":memory:" for a private in-memory
// database) and applies migrations. SQLite serializes writers, so the
// pool holds a single connection.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if err := NewMigrator(db).Up(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return NewStore(db), nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) SaveClick(ctx context.Context, c *tracking.Click) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO clicks(`+clickColumns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.CampaignID, boolInt(c.IsBot), c.Confidence, c.Reason, c.FingerprintHash,
		c.UserAgent, c.IPHash, c.Browser, c.OS, c.DeviceType,
		nullIfEmpty(c.UTM.Source), nullIfEmpty(c.UTM.Medium), nullIfEmpty(c.UTM.Campaign),
		nullIfEmpty(c.UTM.Content), nullIfEmpty(c.UTM.Term), nullIfEmpty(c.Referrer),
		nullIfEmpty(c.ClickIDs.FBCLID), nullIfEmpty(c.ClickIDs.GCLID),
		nullIfEmpty(c.ClickIDs.TTCLID), nullIfEmpty(c.ClickIDs.MSCLKID),
		boolInt(c.Duplicate), boolInt(c.Verified), c.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert click: %w", err)
	}
	return nil
}

func (s *Store) SaveDetection(ctx context.Context, d *tracking.Detection) error {
	columns := []string{"click_id"}
	args := []interface{}{d.ClickID}

	for _, cc := range checkColumns {
		columns = append(columns, cc.column)
		check, ok := d.Checks[cc.probe]
		if !ok {
			args = append(args, nil)
			continue
		}
		raw, err := json.Marshal(check)
		if err != nil {
			return fmt.Errorf("encode %s check: %w", cc.probe, err)
		}
		args = append(args, string(raw))
	}

	fonts, err := json.Marshal(d.InstalledFonts)
	if err != nil {
		return fmt.Errorf("encode fonts: %w", err)
	}

	columns = append(columns,
		"screen_resolution", "color_depth", "timezone", "language", "platform",
		"cores", "memory", "webgl_vendor", "webgl_renderer",
		"canvas_fingerprint", "audio_fingerprint", "installed_fonts")
	args = append(args,
		d.ScreenResolution, d.ColorDepth, d.Timezone, d.Language, d.Platform,
		d.Cores, d.Memory, d.WebGLVendor, d.WebGLRenderer,
		d.CanvasFingerprint, d.AudioFingerprint, string(fonts))

	query := fmt.Sprintf("INSERT INTO bot_detections(%s) VALUES(%s)",
		strings.Join(columns, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", "))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert detection: %w", err)
	}
	return nil
}

// GetDetection loads the stored evidence of a click.
func (s *Store) GetDetection(ctx context.Context, clickID string) (*tracking.Detection, error) {
	columns := make([]string, 0, len(checkColumns))
	for _, cc := range checkColumns {
		columns = append(columns, cc.column)
	}

	raw := make([]sql.NullString, len(checkColumns))
	dest := make([]interface{}, 0, len(checkColumns)+12)
	for i := range raw {
		dest = append(dest, &raw[i])
	}

	d := &tracking.Detection{ClickID: clickID, Checks: make(map[string]detector.CheckResult)}
	var fonts string
	dest = append(dest,
		&d.ScreenResolution, &d.ColorDepth, &d.Timezone, &d.Language, &d.Platform,
		&d.Cores, &d.Memory, &d.WebGLVendor, &d.WebGLRenderer,
		&d.CanvasFingerprint, &d.AudioFingerprint, &fonts)

	query := fmt.Sprintf(`SELECT %s, screen_resolution, color_depth, timezone, language, platform,
		cores, memory, webgl_vendor, webgl_renderer, canvas_fingerprint, audio_fingerprint, installed_fonts
		FROM bot_detections WHERE click_id = ?`, strings.Join(columns, ", "))

	if err := s.db.QueryRowContext(ctx, query, clickID).Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, tracking.ErrClickNotFound
		}
		return nil, fmt.Errorf("query detection %s: %w", clickID, err)
	}

	for i, cc := range checkColumns {
		if !raw[i].Valid {
			continue
		}
		var check detector.CheckResult
		if err := json.Unmarshal([]byte(raw[i].String), &check); err != nil {
			return nil, fmt.Errorf("decode %s check: %w", cc.probe, err)
		}
		d.Checks[cc.probe] = check
	}
	if err := json.Unmarshal([]byte(fonts), &d.InstalledFonts); err != nil {
		return nil, fmt.Errorf("decode fonts: %w", err)
	}
	return d, nil
}

func (s *Store) GetClick(ctx context.Context, id string) (*tracking.Click, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+clickColumns+` FROM clicks WHERE id = ?`, id)
	c, err := scanClick(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, tracking.ErrClickNotFound
		}
		return nil, fmt.Errorf("query click %s: %w", id, err)
	}
	return c, nil
}

// RecentClicks returns up to limit clicks, newest first. An empty
// campaignID selects every campaign.
func (s *Store) RecentClicks(ctx context.Context, campaignID string, limit int) ([]tracking.Click, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+clickColumns+` FROM clicks
		WHERE (? = '' OR campaign_id = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, campaignID, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent clicks: %w", err)
	}
	defer rows.Close()

	clicks := []tracking.Click{}
	for rows.Next() {
		c, err := scanClick(rows)
		if err != nil {
			return nil, fmt.Errorf("scan click: %w", err)
		}
		clicks = append(clicks, *c)
	}
	return clicks, rows.Err()
}

func (s *Store) SavePixelEvent(ctx context.Context, e *tracking.PixelEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pixel_events(id, click_id, campaign_id, platform, event_name, success, error, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, nullIfEmpty(e.ClickID), e.CampaignID, e.Platform, e.EventName,
		boolInt(e.Success), nullIfEmpty(e.Error), e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert pixel event: %w", err)
	}
	return nil
}

func (s *Store) Stats(ctx context.Context, campaignID string) (*tracking.Stats, error) {
	st := &tracking.Stats{
		CampaignID:  campaignID,
		BySource:    map[string]int64{},
		ByCampaign:  map[string]int64{},
		ByDevice:    map[string]int64{},
		PixelEvents: map[string]int64{},
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(is_bot), 0),
		       COALESCE(SUM(is_duplicate), 0)
		FROM clicks
		WHERE (? = '' OR campaign_id = ?)`, campaignID, campaignID).
		Scan(&st.Total, &st.Bots, &st.Duplicates)
	if err != nil {
		return nil, fmt.Errorf("query click totals: %w", err)
	}
	st.Humans = st.Total - st.Bots

	groups := []struct {
		column string
		into   map[string]int64
	}{
		{"utm_source", st.BySource},
		{"utm_campaign", st.ByCampaign},
		{"device_type", st.ByDevice},
	}
	for _, g := range groups {
		if err := s.countBy(ctx, g.column, campaignID, g.into); err != nil {
			return nil, err
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT platform, COUNT(*) FROM pixel_events
		WHERE success = 1 AND (? = '' OR campaign_id = ?)
		GROUP BY platform`, campaignID, campaignID)
	if err != nil {
		return nil, fmt.Errorf("query pixel stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var platform string
		var n int64
		if err := rows.Scan(&platform, &n); err != nil {
			return nil, fmt.Errorf("scan pixel stats: %w", err)
		}
		st.PixelEvents[platform] = n
	}
	return st, rows.Err()
}

// countBy groups clicks by column, which must be one of the fixed names
// passed from Stats. NULL groups are counted as "direct".
func (s *Store) countBy(ctx context.Context, column, campaignID string, into map[string]int64) error {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT COALESCE(%[1]s, 'direct'), COUNT(*) FROM clicks
		WHERE (? = '' OR campaign_id = ?)
		GROUP BY COALESCE(%[1]s, 'direct')`, column), campaignID, campaignID)
	if err != nil {
		return fmt.Errorf("query stats by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan stats by %s: %w", column, err)
		}
		into[key] = n
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanClick(row scanner) (*tracking.Click, error) {
	var (
		c                                        tracking.Click
		isBot, duplicate, verified               int
		source, medium, campaign, content, term  sql.NullString
		referrer, fbclid, gclid, ttclid, msclkid sql.NullString
		createdAt                                int64
	)
	err := row.Scan(
		&c.ID, &c.CampaignID, &isBot, &c.Confidence, &c.Reason, &c.FingerprintHash,
		&c.UserAgent, &c.IPHash, &c.Browser, &c.OS, &c.DeviceType,
		&source, &medium, &campaign, &content, &term, &referrer,
		&fbclid, &gclid, &ttclid, &msclkid, &duplicate, &verified, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	c.IsBot = isBot == 1
	c.Duplicate = duplicate == 1
	c.Verified = verified == 1
	c.UTM = tracking.UTM{
		Source:   source.String,
		Medium:   medium.String,
		Campaign: campaign.String,
		Content:  content.String,
		Term:     term.String,
	}
	c.Referrer = referrer.String
	c.ClickIDs = pixel.ClickIDs{
		FBCLID:  fbclid.String,
		GCLID:   gclid.String,
		TTCLID:  ttclid.String,
		MSCLKID: msclkid.String,
	}
	c.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &c, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
