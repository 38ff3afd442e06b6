package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	goauth "golang.org/x/oauth2/google"

	"pocketmoney/internal/config"
	pmlog "pocketmoney/internal/log"
	ports "pocketmoney/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// DefaultRowCacheTTL bounds how long a cached row count is trusted before the
// sheet is read again. Edits made by hand in the sheet show up after this.
const DefaultRowCacheTTL = 2 * time.Minute

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	// Base name without year (e.g. "Ledger"); each calendar year gets its
	// own "<year> Ledger" sheet.
	sheetBase string

	// writeMu serializes appends so two rows never claim the same line.
	writeMu sync.Mutex

	mu                 sync.Mutex
	knownSheets        map[string]struct{}
	cachedRowCount     map[string]int
	cacheExpiresAt     map[string]time.Time
	cacheValidDuration time.Duration
}

// Ensure interface conformance
var (
	_ ports.LedgerMirror = (*Client)(nil)
	_ ports.EventIndex   = (*Client)(nil)
)

// Options configures a Client. ClientJSON is the OAuth client secret file
// downloaded from the Google console; TokenJSON is what oauth-init saved.
type Options struct {
	SpreadsheetID string
	SheetName     string
	ClientJSON    []byte
	TokenJSON     []byte
	RowCacheTTL   time.Duration
}

// NewFromConfig builds a Client from the GOOGLE_* settings, reading the
// OAuth client and token from inline JSON or from files.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*Client, error) {
	clientJSON, err := jsonOrFile(cfg.GoogleOAuthClientJSON, cfg.GoogleOAuthClientFile)
	if err != nil {
		return nil, fmt.Errorf("oauth client: %w", err)
	}
	tokenJSON, err := jsonOrFile(cfg.GoogleOAuthTokenJSON, cfg.GoogleOAuthTokenFile)
	if err != nil {
		return nil, fmt.Errorf("oauth token: %w", err)
	}
	return New(ctx, Options{
		SpreadsheetID: cfg.GoogleSpreadsheetID,
		SheetName:     cfg.GoogleSheetName,
		ClientJSON:    clientJSON,
		TokenJSON:     tokenJSON,
	})
}

// New creates a Sheets client authorized with a stored OAuth token. The
// token refreshes itself through the pooled HTTP client.
func New(ctx context.Context, opts Options) (*Client, error) {
	spreadsheetID := strings.TrimSpace(opts.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	sheetBase := strings.TrimSpace(opts.SheetName)
	if sheetBase == "" {
		sheetBase = "Ledger"
	}

	svc, err := newSheetsService(ctx, opts.ClientJSON, opts.TokenJSON)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	c := newClient(spreadsheetID, sheetBase, opts.RowCacheTTL)
	c.svc = svc
	return c, nil
}

func newClient(spreadsheetID, sheetBase string, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = DefaultRowCacheTTL
	}
	return &Client{
		spreadsheetID:      spreadsheetID,
		sheetBase:          sheetBase,
		knownSheets:        make(map[string]struct{}),
		cachedRowCount:     make(map[string]int),
		cacheExpiresAt:     make(map[string]time.Time),
		cacheValidDuration: ttl,
	}
}

func jsonOrFile(inline, path string) ([]byte, error) {
	switch {
	case strings.TrimSpace(inline) != "":
		return []byte(inline), nil
	case strings.TrimSpace(path) != "":
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return b, nil
	default:
		return nil, errors.New("neither inline JSON nor file given")
	}
}

// newSheetsService initializes a Sheets Service from an OAuth client secret
// and a saved token.
func newSheetsService(ctx context.Context, clientJSON, tokenJSON []byte) (*gsheet.Service, error) {
	oauthCfg, err := goauth.ConfigFromJSON(clientJSON, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("oauth config: %w", err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(tokenJSON, &tok); err != nil {
		return nil, fmt.Errorf("oauth token: %w", err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, errors.New("oauth token: no access or refresh token")
	}

	slog.InfoContext(ctx, "Creating Google Sheets service",
		pmlog.FieldComponent, pmlog.ComponentSheets,
		"has_refresh_token", tok.RefreshToken != "",
		"scope", gsheet.SpreadsheetsScope)

	// Token refreshes use the pooled client carried in this context.
	httpCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, newHTTPClientWithPooling())
	service, err := gsheet.NewService(ctx, goption.WithHTTPClient(oauthCfg.Client(httpCtx, &tok)))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// newHTTPClientWithPooling creates an HTTP client tuned for the Sheets API
// with connection pooling, timeouts and keep-alive.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext: dialer.DialContext,

		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		ForceAttemptHTTP2: true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}

// AppendLedgerRow writes row on the first empty line of its year's sheet,
// creating the sheet with a header when it does not exist yet.
func (c *Client) AppendLedgerRow(ctx context.Context, row ports.LedgerRow) (string, error) {
	if err := row.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	sheet := c.sheetName(row.Year())
	if err := c.ensureSheet(ctx, sheet); err != nil {
		return "", err
	}

	nextRow, err := c.nextRow(ctx, sheet)
	if err != nil {
		return "", err
	}

	rng := fmt.Sprintf("%s!A%d:%s%d", sheet, nextRow, ports.EventIDColumn, nextRow)
	vr := &gsheet.ValueRange{Values: [][]any{row.Values()}}
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		// The row may or may not have landed; recount next time.
		c.InvalidateRowCache()
		return "", fmt.Errorf("failed to update %s: %w", rng, err)
	}

	c.storeRowCount(sheet, nextRow)
	return rng, nil
}

// MirroredEventIDs reads the event id column of the year's sheet. A year
// with no sheet has no ids.
func (c *Client) MirroredEventIDs(ctx context.Context, year int) ([]string, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	sheet := c.sheetName(year)
	exists, err := c.sheetExists(ctx, sheet)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	col := fmt.Sprintf("%s2:%s", ports.EventIDColumn, ports.EventIDColumn)
	return c.readCol(ctx, sheet, col)
}

func (c *Client) sheetName(year int) string {
	return yearPrefixedName(c.sheetBase, year)
}

// sheetExists checks the spreadsheet's tab titles, remembering every title
// seen so later calls skip the round trip.
func (c *Client) sheetExists(ctx context.Context, sheet string) (bool, error) {
	c.mu.Lock()
	_, ok := c.knownSheets[sheet]
	c.mu.Unlock()
	if ok {
		return true, nil
	}

	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("read spreadsheet %s: %w", c.spreadsheetID, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range ss.Sheets {
		if s.Properties != nil {
			c.knownSheets[s.Properties.Title] = struct{}{}
		}
	}
	_, ok = c.knownSheets[sheet]
	return ok, nil
}

func (c *Client) ensureSheet(ctx context.Context, sheet string) error {
	exists, err := c.sheetExists(ctx, sheet)
	if err != nil || exists {
		return err
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
		AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: sheet}},
	}}}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %s: %w", sheet, err)
	}

	rng := fmt.Sprintf("%s!A1:%s1", sheet, ports.EventIDColumn)
	vr := &gsheet.ValueRange{Values: [][]any{ports.Header}}
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return fmt.Errorf("write header to %s: %w", sheet, err)
	}

	slog.InfoContext(ctx, "Created ledger sheet",
		pmlog.FieldComponent, pmlog.ComponentSheets,
		"sheet", sheet)

	c.mu.Lock()
	c.knownSheets[sheet] = struct{}{}
	c.mu.Unlock()
	c.storeRowCount(sheet, 1)
	return nil
}

// nextRow returns the first empty line, from cache while it is fresh.
func (c *Client) nextRow(ctx context.Context, sheet string) (int, error) {
	if n, ok := c.cachedRows(sheet); ok {
		return n + 1, nil
	}

	rng := fmt.Sprintf("%s!A:A", sheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to get sheet dimensions for %s: %w", sheet, err)
	}
	return len(resp.Values) + 1, nil
}

func (c *Client) cachedRows(sheet string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !time.Now().Before(c.cacheExpiresAt[sheet]) {
		return 0, false
	}
	return c.cachedRowCount[sheet], true
}

func (c *Client) storeRowCount(sheet string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cachedRowCount[sheet] = n
	c.cacheExpiresAt[sheet] = time.Now().Add(c.cacheValidDuration)
}

// InvalidateRowCache forces the next append to recount every sheet.
func (c *Client) InvalidateRowCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for sheet := range c.cacheExpiresAt {
		c.cacheExpiresAt[sheet] = time.Time{}
	}
}

func (c *Client) readCol(ctx context.Context, sheetName, col string) ([]string, error) {
	rng := fmt.Sprintf("%s!%s", sheetName, col)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return columnValues(resp.Values), nil
}

// columnValues keeps the first cell of each row, skipping blanks and
// "#" comments and dropping duplicates while preserving order.
func columnValues(rows [][]interface{}) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		v := strings.TrimSpace(fmt.Sprint(row[0]))
		if v == "" || strings.HasPrefix(v, "#") {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
