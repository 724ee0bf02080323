package http

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// ClientProfile tunes connection pooling and timeouts for one kind of
// outbound traffic
type ClientProfile struct {
	Name string

	// Connection pooling
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration

	// Timeouts
	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration

	KeepAlive          time.Duration
	DisableCompression bool
	MinTLSVersion      uint16
}

// GatewayProfile targets a single payment gateway host with many
// concurrent requests
func GatewayProfile() ClientProfile {
	return ClientProfile{
		Name:                  "gateway",
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   50,
		MaxConnsPerHost:       100,
		IdleConnTimeout:       90 * time.Second,
		DialTimeout:           10 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		KeepAlive:             60 * time.Second,
		MinTLSVersion:         tls.VersionTLS12,
	}
}

// WebhookProfile spreads small JSON posts over many receiver hosts
// without overwhelming any one of them
func WebhookProfile() ClientProfile {
	return ClientProfile{
		Name:                  "webhook",
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   2,
		MaxConnsPerHost:       5,
		IdleConnTimeout:       30 * time.Second,
		DialTimeout:           5 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		KeepAlive:             30 * time.Second,
		MinTLSVersion:         tls.VersionTLS12,
	}
}

// DeliveryProfile is used for the fulfilment service callback
func DeliveryProfile() ClientProfile {
	return ClientProfile{
		Name:                  "delivery",
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       20,
		IdleConnTimeout:       60 * time.Second,
		DialTimeout:           5 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
		KeepAlive:             60 * time.Second,
		MinTLSVersion:         tls.VersionTLS12,
	}
}

// NewHTTPClient creates an HTTP client for the profile. timeout bounds the
// whole request including reading the body.
func NewHTTPClient(p ClientProfile, timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   p.DialTimeout,
		KeepAlive: p.KeepAlive,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          p.MaxIdleConns,
		MaxIdleConnsPerHost:   p.MaxIdleConnsPerHost,
		MaxConnsPerHost:       p.MaxConnsPerHost,
		IdleConnTimeout:       p.IdleConnTimeout,
		TLSHandshakeTimeout:   p.TLSHandshakeTimeout,
		ResponseHeaderTimeout: p.ResponseHeaderTimeout,
		ExpectContinueTimeout: time.Second,
		DisableCompression:    p.DisableCompression,
		TLSClientConfig: &tls.Config{
			MinVersion: p.MinTLSVersion,
		},
		ForceAttemptHTTP2: true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
