package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "HEARTBEAT_INTERVAL", "HEARTBEAT_TIMEOUT", "TOOL_TIMEOUT",
		"GPT_API_KEY", "GPT_BASE_URL", "GPT_MODEL", "DB_HOST",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Fatalf("expected :8080, got %s", cfg.Server.Addr)
	}
	if cfg.Heartbeat.Interval != 5*time.Second || cfg.Heartbeat.Timeout != 10*time.Second {
		t.Fatalf("unexpected heartbeat defaults: %+v", cfg.Heartbeat)
	}
	if cfg.Tools.CallTimeout != 10*time.Second {
		t.Fatalf("unexpected tool timeout: %s", cfg.Tools.CallTimeout)
	}
	if cfg.AI.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected model default: %s", cfg.AI.Model)
	}
	if cfg.AI.Enabled() {
		t.Fatal("AI should be disabled without an api key")
	}
	if cfg.DB.Enabled() {
		t.Fatal("DB should be disabled without a host")
	}
}

func TestLoadPortVariants(t *testing.T) {
	cases := map[string]string{
		"9000":           ":9000",
		":9000":          ":9000",
		"127.0.0.1:9000": "127.0.0.1:9000",
	}
	for raw, want := range cases {
		t.Setenv("PORT", raw)
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load err for PORT=%q: %v", raw, err)
		}
		if cfg.Server.Addr != want {
			t.Fatalf("PORT=%q: expected %s, got %s", raw, want, cfg.Server.Addr)
		}
	}
}

func TestLoadRejectsBadHeartbeat(t *testing.T) {
	t.Setenv("HEARTBEAT_INTERVAL", "10")
	t.Setenv("HEARTBEAT_TIMEOUT", "5")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when timeout does not exceed interval")
	}

	t.Setenv("HEARTBEAT_INTERVAL", "not-a-number")
	t.Setenv("HEARTBEAT_TIMEOUT", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for a non-numeric interval")
	}
}

func TestDSN(t *testing.T) {
	db := DBConfig{Host: "db.local", Port: "3306", User: "svc", Password: "secret", Name: "zhilian"}
	want := "svc:secret@tcp(db.local:3306)/zhilian?parseTime=true&charset=utf8mb4"
	if got := db.DSN(); got != want {
		t.Fatalf("DSN mismatch:\n got %s\nwant %s", got, want)
	}
}
