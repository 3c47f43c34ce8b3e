package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestVerifyRejectsPlainHTTPWithoutProbing(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	v := NewVerifier(VerifierConfig{AllowInsecure: false})
	res := v.Verify(context.Background(), srv.URL, "")
	if res.Valid {
		t.Fatal("Verify() accepted a plain-http target")
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "HTTPS") {
		t.Fatalf("Errors = %v", res.Errors)
	}
	if hits.Load() != 0 {
		t.Fatalf("target was probed %d times despite scheme rejection", hits.Load())
	}
}

func TestVerifyRejectsBadURLs(t *testing.T) {
	v := NewVerifier(VerifierConfig{AllowInsecure: true})
	for _, bad := range []string{"", "ftp://host", "https://", "not a url at all ://"} {
		res := v.Verify(context.Background(), bad, "")
		if res.Valid {
			t.Fatalf("Verify(%q) accepted an invalid url", bad)
		}
	}
}

func TestVerifyHealthyTargetRunsSmokeTest(t *testing.T) {
	var tested atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			_, _ = w.Write([]byte(`{"status": "ok"}`))
		case "/execute-tool":
			tested.Store(true)
			_, _ = w.Write([]byte(`{"success": true, "output": "verification ping"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	v := NewVerifier(VerifierConfig{AllowInsecure: true})
	res := v.Verify(context.Background(), srv.URL, "")
	if !res.Valid {
		t.Fatalf("Verify() = %+v, want valid", res)
	}
	if !tested.Load() {
		t.Fatal("smoke test never reached the target")
	}
}

func TestVerifyUnhealthyTargetSkipsSmokeTest(t *testing.T) {
	var tested atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			_, _ = w.Write([]byte(`{"status": "starting"}`))
		case "/execute-tool":
			tested.Store(true)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	v := NewVerifier(VerifierConfig{AllowInsecure: true})
	res := v.Verify(context.Background(), srv.URL, "")
	if res.Valid {
		t.Fatal("Verify() accepted an unhealthy target")
	}
	if tested.Load() {
		t.Fatal("smoke test ran against an unhealthy target")
	}
}

func TestCheckHealthStatuses(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		healthy bool
	}{
		{"ok", `{"status": "ok"}`, http.StatusOK, true},
		{"degraded is still healthy", `{"status": "degraded"}`, http.StatusOK, true},
		{"unknown status", `{"status": "down"}`, http.StatusOK, false},
		{"non-2xx", `{}`, http.StatusBadGateway, false},
		{"garbage body", `not json`, http.StatusOK, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			v := NewVerifier(VerifierConfig{AllowInsecure: true})
			got := v.CheckHealth(context.Background(), srv.URL, "")
			if got.Healthy != tt.healthy {
				t.Fatalf("Healthy = %v, want %v (error %q)", got.Healthy, tt.healthy, got.Error)
			}
		})
	}
}

func TestTestSendsCannedInvocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/execute-tool" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"success": true}`))
	}))
	defer srv.Close()

	v := NewVerifier(VerifierConfig{AllowInsecure: true})
	res := v.Test(context.Background(), srv.URL, "k")
	if !res.Success {
		t.Fatalf("Test() = %+v", res)
	}
}
