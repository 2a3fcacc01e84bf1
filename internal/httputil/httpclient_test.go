package httputil

import (
	"net/http"
	"testing"
	"time"
)

func TestCopyHTTPClientWithTimeoutSetsDefault(t *testing.T) {
	base := &http.Client{}
	out := CopyHTTPClientWithTimeout(base, 30*time.Second, false)
	if out.Timeout != 30*time.Second {
		t.Fatalf("expected 30s timeout, got %s", out.Timeout)
	}
	if base.Timeout != 0 {
		t.Fatalf("expected base client to be unmodified")
	}
}

func TestCopyHTTPClientWithTimeoutForce(t *testing.T) {
	base := &http.Client{Timeout: 5 * time.Second}
	out := CopyHTTPClientWithTimeout(base, 30*time.Second, true)
	if out.Timeout != 30*time.Second {
		t.Fatalf("expected forced timeout override, got %s", out.Timeout)
	}
}

func TestCopyHTTPClientWithTimeoutNilBase(t *testing.T) {
	out := CopyHTTPClientWithTimeout(nil, 10*time.Second, false)
	if out.Timeout != 10*time.Second {
		t.Fatalf("expected new client with timeout set")
	}
}
