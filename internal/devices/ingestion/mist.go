package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lvonguyen/mistsync/internal/devices"
)

const (
	mistDefaultBaseURL = "https://api.mist.com"
	mistAPIPath        = "/api/v1"
)

// detailFields is the field projection requested from the device stats
// listing. ha_peer_mac is the only reliable source of the node 1 MAC.
var detailFields = []string{
	"id", "org_id", "site_id", "map_id", "model", "type", "mac", "vc_mac",
	"serial", "name", "hostname", "created_time", "last_seen", "status",
	"version", "uptime", "module_stats", "module_stat", "module2_stat",
	"ip_stat", "if_stat", "if2_stat", "lldp_stat", "port_stat", "ip",
	"is_ha", "ha_peer_mac", "clients",
}

// ClientConfig holds Mist API settings.
type ClientConfig struct {
	BaseURL           string        `yaml:"base_url"`
	OrgID             string        `yaml:"org_id"`
	APITokenEnv       string        `yaml:"api_token_env"`
	PageLimit         int           `yaml:"page_limit"`
	Timeout           time.Duration `yaml:"timeout"`
	RetryCount        int           `yaml:"retry_count"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:           mistDefaultBaseURL,
		APITokenEnv:       "MIST_API_TOKEN",
		PageLimit:         100,
		Timeout:           30 * time.Second,
		RetryCount:        3,
		RetryInterval:     500 * time.Millisecond,
		RequestsPerSecond: 5, // Mist allows 5000 calls/hour per token
	}
}

// ClientStats tracks API usage.
type ClientStats struct {
	Requests   int64
	Retries    int64
	Failures   int64
	Items      int64
	LastPageAt time.Time
}

// Client is a paginated Mist API client. It implements Source.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	mu         sync.RWMutex
	stats      ClientStats
}

// NewClient creates a new Mist API client.
func NewClient(config ClientConfig, logger *zap.Logger) (*Client, error) {
	if os.Getenv(config.APITokenEnv) == "" {
		return nil, fmt.Errorf("Mist API token not found in env var: %s", config.APITokenEnv)
	}
	if config.OrgID == "" {
		return nil, fmt.Errorf("%w: org_id", ErrMissingField)
	}
	if config.BaseURL == "" {
		config.BaseURL = mistDefaultBaseURL
	}
	if config.PageLimit <= 0 {
		config.PageLimit = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.Named("mist"),
	}, nil
}

// InventoryStream streams the org inventory, virtual chassis members included.
func (c *Client) InventoryStream(ctx context.Context, f Filter) (Stream, error) {
	q := url.Values{}
	q.Set("vc", "true")
	if f.Type != "" && f.Type != devices.DeviceTypeAll {
		q.Set("type", string(f.Type))
	}
	if f.DeviceMAC != "" {
		q.Set("mac", f.DeviceMAC)
	}
	return c.newPageStream(c.orgPath("/inventory"), q), nil
}

// DetailStream streams device statistics for one device class.
func (c *Client) DetailStream(ctx context.Context, f Filter) (Stream, error) {
	q := url.Values{}
	t := f.Type
	if t == "" {
		t = devices.DeviceTypeAll
	}
	q.Set("type", string(t))
	q.Set("fields", strings.Join(detailFields, ","))
	if f.DeviceMAC != "" {
		q.Set("mac", f.DeviceMAC)
	} else if len(f.SiteIDs) > 0 {
		q.Set("site_id", strings.Join(f.SiteIDs, ","))
	}
	return c.newPageStream(c.orgPath("/stats/devices"), q), nil
}

// ListSites returns every site of the org.
func (c *Client) ListSites(ctx context.Context) ([]devices.Site, error) {
	stream := c.newPageStream(c.orgPath("/sites"), url.Values{})
	defer stream.Close()

	var sites []devices.Site
	for {
		raw, err := stream.Next(ctx)
		if err == io.EOF {
			return sites, nil
		}
		if err != nil {
			return sites, fmt.Errorf("listing sites: %w", err)
		}
		var site devices.Site
		if err := json.Unmarshal(raw, &site); err != nil {
			c.logger.Warn("skipping malformed site", zap.Error(err))
			continue
		}
		sites = append(sites, site)
	}
}

// HealthCheck verifies the token against the API.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/self")
	if err != nil {
		return fmt.Errorf("creating health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("Mist health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("Mist authentication failed: invalid API token")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return nil
}

// Stats returns current client statistics.
func (c *Client) Stats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

func (c *Client) orgPath(suffix string) string {
	return "/orgs/" + url.PathEscape(c.config.OrgID) + suffix
}

// newRequest creates an authenticated Mist API request.
func (c *Client) newRequest(ctx context.Context, method, pathAndQuery string) (*http.Request, error) {
	fullURL := strings.TrimSuffix(c.config.BaseURL, "/") + mistAPIPath + pathAndQuery

	req, err := http.NewRequestWithContext(ctx, method, fullURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Token "+os.Getenv(c.config.APITokenEnv))
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "mistsync/1.0")

	return req, nil
}

type page struct {
	items [][]byte
	raw   []byte
	more  bool
}

// fetchPage fetches one page, retrying transient failures with exponential
// backoff. 4xx responses other than 429 are not retried.
func (c *Client) fetchPage(ctx context.Context, path string, query url.Values, pageNum int) (*page, error) {
	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	q.Set("limit", strconv.Itoa(c.config.PageLimit))
	q.Set("page", strconv.Itoa(pageNum))
	target := path + "?" + q.Encode()

	attempt := 0
	operation := func() (*page, error) {
		attempt++
		if attempt > 1 {
			c.mu.Lock()
			c.stats.Retries++
			c.mu.Unlock()
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}

		req, err := c.newRequest(ctx, http.MethodGet, target)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		c.mu.Lock()
		c.stats.Requests++
		c.mu.Unlock()

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("Mist request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			if secs, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil && secs > 0 {
				return nil, backoff.RetryAfter(secs)
			}
			return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
		case resp.StatusCode >= http.StatusInternalServerError:
			return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return nil, backoff.Permanent(fmt.Errorf("%w: %d, response: %s",
				ErrUnexpectedStatus, resp.StatusCode, string(body)))
		}

		res := gjson.ParseBytes(body)
		if !res.IsArray() {
			return nil, backoff.Permanent(fmt.Errorf("%w: page body is not a list", ErrMalformedItem))
		}

		p := &page{raw: body}
		res.ForEach(func(_, value gjson.Result) bool {
			p.items = append(p.items, []byte(value.Raw))
			return true
		})

		p.more = len(p.items) >= c.config.PageLimit
		if total, convErr := strconv.Atoi(resp.Header.Get("X-Page-Total")); convErr == nil {
			p.more = p.more && pageNum*c.config.PageLimit < total
		}
		return p, nil
	}

	bo := backoff.NewExponentialBackOff()
	if c.config.RetryInterval > 0 {
		bo.InitialInterval = c.config.RetryInterval
	}

	p, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(c.config.RetryCount+1)))
	if err != nil {
		c.mu.Lock()
		c.stats.Failures++
		c.mu.Unlock()
		c.logger.Error("page fetch failed",
			zap.String("path", path),
			zap.Int("page", pageNum),
			zap.Int("attempts", attempt),
			zap.Error(err))
		return nil, err
	}

	c.mu.Lock()
	c.stats.Items += int64(len(p.items))
	c.stats.LastPageAt = time.Now()
	c.mu.Unlock()

	return p, nil
}

// pageStream walks a paginated listing one item at a time. Mist pages are
// 1-based.
type pageStream struct {
	client *Client
	path   string
	query  url.Values
	next   int
	buf    [][]byte
	last   []byte
	done   bool
	closed bool
}

func (c *Client) newPageStream(path string, query url.Values) *pageStream {
	return &pageStream{client: c, path: path, query: query, next: 1}
}

// Next implements Stream.
func (s *pageStream) Next(ctx context.Context) ([]byte, error) {
	for len(s.buf) == 0 {
		if s.closed || s.done {
			return nil, io.EOF
		}
		p, err := s.client.fetchPage(ctx, s.path, s.query, s.next)
		if err != nil {
			s.done = true
			return nil, err
		}
		// A server that ignores the page parameter serves the same body again.
		if len(p.items) > 0 && bytes.Equal(p.raw, s.last) {
			s.client.logger.Warn("page repeated, ending listing",
				zap.String("path", s.path),
				zap.Int("page", s.next))
			s.done = true
			return nil, io.EOF
		}
		s.next++
		s.last = p.raw
		s.buf = p.items
		s.done = !p.more
	}
	item := s.buf[0]
	s.buf = s.buf[1:]
	return item, nil
}

// Close implements Stream.
func (s *pageStream) Close() error {
	s.closed = true
	s.buf = nil
	return nil
}
