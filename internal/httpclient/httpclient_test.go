package httpclient

import (
	"net/http"
	"testing"
	"time"
)

func TestNewDefaultsTimeout(t *testing.T) {
	client := New(Options{})
	if client.Timeout != defaultTimeout {
		t.Fatalf("expected default timeout %s, got %s", defaultTimeout, client.Timeout)
	}

	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", client.Transport)
	}
	if transport.ResponseHeaderTimeout != 90*time.Second {
		t.Fatalf("unexpected response header timeout %s", transport.ResponseHeaderTimeout)
	}
}

func TestNewCapsHeaderTimeoutAtCallTimeout(t *testing.T) {
	client := New(Options{Timeout: 5 * time.Second, PreferIPv4: true})
	transport := client.Transport.(*http.Transport)
	if transport.ResponseHeaderTimeout != 5*time.Second {
		t.Fatalf("expected 5s header timeout, got %s", transport.ResponseHeaderTimeout)
	}
}

func TestNewKeepsInjectedTransport(t *testing.T) {
	rt := http.DefaultTransport
	client := New(Options{Transport: rt, Timeout: time.Second})
	if client.Transport != rt {
		t.Fatal("expected injected transport to be used")
	}
	if client.Timeout != time.Second {
		t.Fatalf("unexpected timeout %s", client.Timeout)
	}
}
