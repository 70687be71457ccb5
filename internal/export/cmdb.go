// Package export delivers emitted device records to the CMDB import-set API.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/lvonguyen/mistsync/internal/devices"
)

var ErrUnexpectedStatus = errors.New("unexpected CMDB status")

// Config holds CMDB sender configuration.
type Config struct {
	Enabled       bool          `yaml:"enabled"`
	BaseURL       string        `yaml:"base_url"`
	ImportTable   string        `yaml:"import_table"`
	UsernameEnv   string        `yaml:"username_env"`
	PasswordEnv   string        `yaml:"password_env"`
	Timeout       time.Duration `yaml:"timeout"`
	RetryCount    int           `yaml:"retry_count"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		ImportTable:   "u_mist_device_import",
		UsernameEnv:   "CMDB_USERNAME",
		PasswordEnv:   "CMDB_PASSWORD",
		Timeout:       30 * time.Second,
		RetryCount:    3,
		RetryInterval: time.Second,
	}
}

// Stats tracks sender metrics.
type Stats struct {
	RecordsSent   int64
	RecordsFailed int64
	BytesSent     int64
	LastSendAt    time.Time
}

// Sender posts device records to an import-set table.
type Sender struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger
	mu         sync.RWMutex
	stats      Stats
}

// NewSender creates a new CMDB sender. Credentials are read from the
// environment variables named in config.
func NewSender(config Config, logger *zap.Logger) (*Sender, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("CMDB base URL is required")
	}
	if os.Getenv(config.UsernameEnv) == "" {
		return nil, fmt.Errorf("CMDB username not found in env var: %s", config.UsernameEnv)
	}
	if os.Getenv(config.PasswordEnv) == "" {
		return nil, fmt.Errorf("CMDB password not found in env var: %s", config.PasswordEnv)
	}
	if config.ImportTable == "" {
		config.ImportTable = DefaultConfig().ImportTable
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sender{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logger,
	}, nil
}

// importRow is one import-set row. The record is carried as a JSON string
// in a single column.
type importRow struct {
	Data string `json:"u_data"`
}

// Record encodes d as an import-set row body.
func Record(d *devices.Device) ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encoding device %s: %w", d.Serial, err)
	}
	return json.Marshal(importRow{Data: string(data)})
}

// Send posts one record.
func (s *Sender) Send(ctx context.Context, d *devices.Device) error {
	body, err := Record(d)
	if err != nil {
		return err
	}
	if err := s.sendWithRetry(ctx, body); err != nil {
		s.mu.Lock()
		s.stats.RecordsFailed++
		s.mu.Unlock()
		return fmt.Errorf("exporting %s: %w", d.Serial, err)
	}
	return nil
}

// SendAll posts every record in serial order and returns the number sent.
// A failed record does not stop the others; all failures are returned.
func (s *Sender) SendAll(ctx context.Context, devs map[string]*devices.Device) (int, error) {
	serials := make([]string, 0, len(devs))
	for serial := range devs {
		serials = append(serials, serial)
	}
	sort.Strings(serials)

	sent := 0
	var errs []error
	for _, serial := range serials {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.Send(ctx, devs[serial]); err != nil {
			s.logger.Warn("record export failed", zap.String("serial", serial), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

// sendWithRetry sends data with exponential backoff. 429 and 5xx responses
// are retried; other failures are not.
func (s *Sender) sendWithRetry(ctx context.Context, data []byte) error {
	bo := backoff.NewExponentialBackOff()
	if s.config.RetryInterval > 0 {
		bo.InitialInterval = s.config.RetryInterval
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, s.send(ctx, data)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(s.config.RetryCount+1)))
	return err
}

// send performs the actual HTTP request.
func (s *Sender) send(ctx context.Context, data []byte) error {
	url := strings.TrimSuffix(s.config.BaseURL, "/") + "/api/now/import/" + s.config.ImportTable

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.SetBasicAuth(os.Getenv(s.config.UsernameEnv), os.Getenv(s.config.PasswordEnv))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("CMDB request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	default:
		body, _ := io.ReadAll(resp.Body)
		return backoff.Permanent(fmt.Errorf("%w: %d, response: %s", ErrUnexpectedStatus, resp.StatusCode, string(body)))
	}

	s.mu.Lock()
	s.stats.RecordsSent++
	s.stats.BytesSent += int64(len(data))
	s.stats.LastSendAt = time.Now()
	s.mu.Unlock()

	return nil
}

// Stats returns current sender statistics.
func (s *Sender) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// HealthCheck verifies the import table is reachable with the configured
// credentials.
func (s *Sender) HealthCheck(ctx context.Context) error {
	url := strings.TrimSuffix(s.config.BaseURL, "/") + "/api/now/table/" + s.config.ImportTable + "?sysparm_limit=1"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(os.Getenv(s.config.UsernameEnv), os.Getenv(s.config.PasswordEnv))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("CMDB health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return nil
}
