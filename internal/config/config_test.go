package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Mode != "api" {
		t.Errorf("Mode = %q, want %q", cfg.Mode, "api")
	}
	if cfg.LimitsPagination != 100 {
		t.Errorf("LimitsPagination = %d, want 100", cfg.LimitsPagination)
	}
	if cfg.ScheduleBuckets != 10 {
		t.Errorf("ScheduleBuckets = %d, want 10", cfg.ScheduleBuckets)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
		t.Errorf("CORSAllowedOrigins = %v, want [*]", cfg.CORSAllowedOrigins)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AUTOSCALE_MODE", "worker")
	t.Setenv("AUTOSCALE_PORT", "9090")
	t.Setenv("LIMITS_MAX_GROUPS", "50")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Mode != "worker" {
		t.Errorf("Mode = %q, want %q", cfg.Mode, "worker")
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.LimitsMaxGroups != 50 {
		t.Errorf("LimitsMaxGroups = %d, want 50", cfg.LimitsMaxGroups)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins = %v, want 2 entries", cfg.CORSAllowedOrigins)
	}
}

func TestListenAddr(t *testing.T) {
	cfg := &Config{Host: "127.0.0.1", Port: 8080}
	if got, want := cfg.ListenAddr(), "127.0.0.1:8080"; got != want {
		t.Errorf("ListenAddr() = %q, want %q", got, want)
	}
}
