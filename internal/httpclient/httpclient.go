// Package httpclient builds the outbound HTTP client shared by the provider
// adapters, the commerce client and the tracking webhook.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"time"
)

const defaultTimeout = 120 * time.Second

type Options struct {
	PreferIPv4 bool
	// Timeout bounds a whole call including the body read. Zero means 120s.
	Timeout time.Duration
	// Transport, when set, replaces the tuned transport. Tests pass
	// httptest transports through here.
	Transport http.RoundTripper
}

func New(opts Options) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	if opts.Transport != nil {
		return &http.Client{Timeout: timeout, Transport: opts.Transport}
	}

	dialer := &net.Dialer{
		Timeout:   15 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if opts.PreferIPv4 {
				return dialer.DialContext(ctx, "tcp4", addr)
			}
			return dialer.DialContext(ctx, network, addr)
		},
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: min(timeout, 90*time.Second),
		ExpectContinueTimeout: time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
