package dashboard

import (
	"testing"

	"cfdfeed/config"
	"cfdfeed/internal/stream"
	"cfdfeed/logger"
)

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":                          "0.0.0.0:8080",
		"  :9090  ":                 "0.0.0.0:9090",
		"localhost":                 "localhost:8080",
		"0.0.0.0:80":                "0.0.0.0:80",
		"[::1]:443":                 "[::1]:443",
		"::1":                       "[::1]:8080",
		"*:8080":                    "0.0.0.0:8080",
		"http://10.0.0.7:8080":      "10.0.0.7:8080",
		"https://10.0.0.7":          "10.0.0.7:8080",
		"http://:7070":              "0.0.0.0:7070",
		"tcp://localhost:5050":      "localhost:5050",
		"https://feed.example.com/": "feed.example.com:8080",
	}

	for input, want := range cases {
		if got := normalizeAddress(input); got != want {
			t.Fatalf("normalizeAddress(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNewServerNormalizesConfiguredAddress(t *testing.T) {
	cfg := config.DashboardConfig{Enabled: true, Address: ":9000"}

	srv, err := NewServer(cfg, logger.GetLogger(), Deps{Feed: stream.New(config.StreamConfig{})})
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}
	if srv == nil {
		t.Fatal("expected server, got nil")
	}
	if got := srv.Address(); got != "0.0.0.0:9000" {
		t.Fatalf("server address = %q, want %q", got, "0.0.0.0:9000")
	}
	srv.cleanup()
}

func TestNewServerDisabled(t *testing.T) {
	srv, err := NewServer(config.DashboardConfig{}, logger.GetLogger(), Deps{})
	if err != nil || srv != nil {
		t.Fatalf("disabled server = %v, %v; want nil, nil", srv, err)
	}
	if srv.Address() != "" {
		t.Fatal("nil server should report no address")
	}
}

func TestNewServerRequiresFeed(t *testing.T) {
	if _, err := NewServer(config.DashboardConfig{Enabled: true}, logger.GetLogger(), Deps{}); err == nil {
		t.Fatal("expected error without a feed")
	}
}
