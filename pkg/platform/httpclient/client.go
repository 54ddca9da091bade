// Package httpclient builds *http.Client values with explicit timeouts
// and connection pooling instead of http.DefaultClient, with presets
// for LLM, embedding, observability-provider and webhook traffic. The
// webhook notifier (pkg/notify) is the one caller in this module; the
// LLM client uses the Anthropic SDK's own HTTP client, and the local
// embedding provider makes no HTTP calls.
package httpclient

import (
	"crypto/tls"
	"net/http"
	"time"
)

// ClientConfig controls timeout and connection-pool behavior for a
// single http.Client.
type ClientConfig struct {
	Timeout                time.Duration
	MaxRetries             int
	DisableSSLVerification bool
	MaxIdleConns           int
	IdleConnTimeout        time.Duration
	TLSHandshakeTimeout    time.Duration
	ResponseHeaderTimeout  time.Duration
}

// DefaultClientConfig returns the baseline 30s-timeout configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:                30 * time.Second,
		MaxRetries:             3,
		DisableSSLVerification: false,
		MaxIdleConns:           10,
		IdleConnTimeout:        90 * time.Second,
		TLSHandshakeTimeout:    10 * time.Second,
		ResponseHeaderTimeout:  10 * time.Second,
	}
}

// NewClient builds an *http.Client from cfg with a dedicated transport.
func NewClient(cfg ClientConfig) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:          cfg.MaxIdleConns,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
	}
	if cfg.DisableSSLVerification {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in only
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}
}

// NewClientWithTimeout builds a client with the default pool settings
// and a caller-supplied timeout.
func NewClientWithTimeout(timeout time.Duration) *http.Client {
	cfg := DefaultClientConfig()
	cfg.Timeout = timeout
	return NewClient(cfg)
}

// NewDefaultClient builds a client from DefaultClientConfig.
func NewDefaultClient() *http.Client {
	return NewClient(DefaultClientConfig())
}

// LLMClientConfig tunes timeouts for LLM generation calls, which tend
// to have slow time-to-first-byte but need a hard ceiling.
func LLMClientConfig(timeout time.Duration) ClientConfig {
	cfg := DefaultClientConfig()
	cfg.Timeout = timeout
	cfg.ResponseHeaderTimeout = timeout / 3
	cfg.MaxRetries = 3
	return cfg
}

// EmbeddingClientConfig tunes timeouts for embedding calls, which are
// shorter-lived than generation calls.
func EmbeddingClientConfig(timeout time.Duration) ClientConfig {
	cfg := DefaultClientConfig()
	cfg.Timeout = timeout
	cfg.ResponseHeaderTimeout = timeout / 2
	cfg.MaxRetries = 3
	return cfg
}

// ObservabilityClientConfig tunes timeouts for calls to the external
// observability provider (trace query, metric publish).
func ObservabilityClientConfig(timeout time.Duration) ClientConfig {
	cfg := DefaultClientConfig()
	cfg.Timeout = timeout
	cfg.ResponseHeaderTimeout = timeout / 2
	cfg.MaxRetries = 3
	return cfg
}

// WebhookClientConfig is the short-timeout, low-retry configuration
// for fire-and-forget outbound notifications.
func WebhookClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:               5 * time.Second,
		MaxRetries:            2,
		MaxIdleConns:          5,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 3 * time.Second,
	}
}
