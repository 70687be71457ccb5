// Package webhook receives alarm webhooks and hands them to the correlator.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/mistsync/internal/devices/correlation"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Mist-Signature-v2"

// Config holds receiver configuration.
type Config struct {
	SecretEnv   string `yaml:"webhook_secret_env"`
	MaxBodySize int64  `yaml:"max_body_size"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SecretEnv:   "MIST_WEBHOOK_SECRET",
		MaxBodySize: 1024 * 1024, // 1MB
	}
}

// Stats tracks receiver metrics.
type Stats struct {
	Received      int64
	Rejected      int64
	Unsupported   int64
	Failed        int64
	BytesReceived int64
	LastEventAt   time.Time
}

// Handler processes an authenticated webhook body.
type Handler interface {
	HandleWebhook(ctx context.Context, body []byte) (*correlation.Result, error)
}

// Receiver is the http.Handler for alarm webhooks.
type Receiver struct {
	config  Config
	handler Handler
	logger  *zap.Logger
	mu      sync.RWMutex
	stats   Stats
}

// NewReceiver creates a new webhook receiver.
func NewReceiver(config Config, handler Handler, logger *zap.Logger) *Receiver {
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultConfig().MaxBodySize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Receiver{
		config:  config,
		handler: handler,
		logger:  logger,
	}
}

// Stats returns current receiver statistics.
func (r *Receiver) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

type response struct {
	Result  string   `json:"result"`
	Reason  string   `json:"reason,omitempty"`
	Details []string `json:"details,omitempty"`
}

// ServeHTTP implements http.Handler.
func (r *Receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(io.LimitReader(req.Body, r.config.MaxBodySize))
	if err != nil {
		r.count(func(s *Stats) { s.Rejected++ })
		writeJSON(w, http.StatusBadRequest, response{Result: "Bad Request", Reason: "error reading body"})
		return
	}

	if !r.validateSignature(req.Header.Get(SignatureHeader), body) {
		r.count(func(s *Stats) { s.Rejected++ })
		r.logger.Warn("webhook signature rejected", zap.String("remote_addr", req.RemoteAddr))
		writeJSON(w, http.StatusUnauthorized, response{Result: "Unauthorized", Reason: "invalid signature"})
		return
	}

	r.count(func(s *Stats) {
		s.Received++
		s.BytesReceived += int64(len(body))
		s.LastEventAt = time.Now()
	})

	result, err := r.handler.HandleWebhook(req.Context(), body)
	switch {
	case errors.Is(err, correlation.ErrUnsupportedTopic):
		r.count(func(s *Stats) { s.Unsupported++ })
		topic := ""
		if wh, perr := correlation.ParseWebhook(body); perr == nil {
			topic = wh.Topic
		}
		writeJSON(w, http.StatusNotImplemented, response{
			Result: "Not Implemented",
			Reason: fmt.Sprintf("%s topic not supported", topic),
		})
		return
	case errors.Is(err, correlation.ErrMalformedWebhook):
		r.count(func(s *Stats) { s.Rejected++ })
		writeJSON(w, http.StatusBadRequest, response{Result: "Bad Request", Reason: err.Error()})
		return
	case err != nil:
		r.count(func(s *Stats) { s.Failed++ })
		r.logger.Error("webhook processing failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, response{Result: "Internal Server Error", Reason: err.Error()})
		return
	}

	if !result.OK() {
		r.count(func(s *Stats) { s.Failed++ })
		r.logger.Warn("webhook partially processed",
			zap.Int("required", result.Required),
			zap.Int("created", result.Created),
			zap.Strings("messages", result.Messages))
		writeJSON(w, http.StatusInternalServerError, response{
			Result:  "Internal Server Error",
			Reason:  fmt.Sprintf("%d/%d incident(s) created", result.Created, result.Required),
			Details: result.Messages,
		})
		return
	}

	writeJSON(w, http.StatusOK, response{Result: "success"})
}

// validateSignature checks the body HMAC. It fails closed when no secret is
// configured.
func (r *Receiver) validateSignature(signature string, body []byte) bool {
	secret := os.Getenv(r.config.SecretEnv)
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(got, Sign([]byte(secret), body))
}

// Sign returns the HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

func (r *Receiver) count(fn func(*Stats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
