package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "addr: :9999\ndata_dir: /tmp/l\nqueue:\n  max_pending: 4\n  evict_after: 2m\ncache:\n  backend: redis\n  redis_addr: localhost:6379\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.DataDir != "/tmp/l" || cfg.Queue.MaxPending != 4 || cfg.Queue.EvictAfter.Std() != 2*time.Minute {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Cache.Backend != "redis" || cfg.Cache.RedisAddr != "localhost:6379" {
		t.Fatalf("unexpected cache cfg: %+v", cfg.Cache)
	}
	// untouched keys keep defaults
	if cfg.Store.Backend != "file" || cfg.Provider.StatusURL == "" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"addr":":7070","provider":{"token":"hf_x","timeout":"30s"},"prober":{"max_retries":3}}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.Provider.Token != "hf_x" || cfg.Provider.Timeout.Std() != 30*time.Second || cfg.Prober.MaxRetries != 3 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "addr=\":8081\"\n[queue]\ntick_interval=\"250ms\"\n[events]\nkafka_brokers=[\"k1:9092\",\"k2:9092\"]\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.Queue.TickInterval.Std() != 250*time.Millisecond || len(cfg.Events.KafkaBrokers) != 2 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
	bad := writeTempFile(t, d, "cfg.yaml", "queue:\n  evict_after: soon\n")
	if _, err := Load(bad); err == nil {
		t.Fatalf("expected invalid duration error")
	}
}

func TestResolveEnvAndFlags(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "addr: :1111\nqueue:\n  max_pending: 3\n")
	t.Setenv("LOUNGED_QUEUE_MAX_PENDING", "7")
	t.Setenv("LOUNGED_EVENTS_KAFKA_BROKERS", "a:1, b:2")
	t.Setenv("HUGGINGFACE_TOKEN", "hf_env")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("addr", ":8080", "")
	fs.String("token", "", "")
	if err := fs.Parse([]string{"--addr", ":2222"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg, err := Resolve(p, fs)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Addr != ":2222" {
		t.Fatalf("flag should win over file, got %q", cfg.Addr)
	}
	if cfg.Queue.MaxPending != 7 {
		t.Fatalf("env should win over file, got %d", cfg.Queue.MaxPending)
	}
	if len(cfg.Events.KafkaBrokers) != 2 || cfg.Events.KafkaBrokers[1] != "b:2" {
		t.Fatalf("unexpected brokers: %v", cfg.Events.KafkaBrokers)
	}
	if cfg.Provider.Token != "hf_env" {
		t.Fatalf("expected token from HUGGINGFACE_TOKEN, got %q", cfg.Provider.Token)
	}
}

func TestResolveWithoutFile(t *testing.T) {
	cfg, err := Resolve("", nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Addr != Default().Addr {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
}
