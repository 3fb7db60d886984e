package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/refdraft/internal/inbox"
	pkgconfig "github.com/starford/refdraft/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should pass: %v", err)
	}
	if len(cfg.ServiceOptions()) == 0 {
		t.Error("expected service options")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestInboxConfig(t *testing.T) {
	cfg := InboxConfig{Enabled: true}
	if err := cfg.Validate(); err == nil {
		t.Error("enabled inbox without path should fail")
	}

	cfg = InboxConfig{Enabled: false}
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled inbox should pass: %v", err)
	}
	if cfg.OnDuplicate != inbox.PolicySkip {
		t.Errorf("on_duplicate = %q, want skip", cfg.OnDuplicate)
	}

	cfg = InboxConfig{Path: "./inbox", OnDuplicate: "merge"}
	if err := cfg.Validate(); err == nil {
		t.Error("unknown duplicate policy should fail")
	}
}

func TestBackfillConfig_ChunkSizeBounds(t *testing.T) {
	for _, n := range []int{0, 501} {
		cfg := BackfillConfig{ChunkSize: n}
		if err := cfg.Validate(); err == nil {
			t.Errorf("chunk_size %d should fail", n)
		}
	}
	cfg := BackfillConfig{ChunkSize: 500, ChunkDelay: time.Second}
	if err := cfg.Validate(); err != nil {
		t.Errorf("chunk_size 500 should pass: %v", err)
	}
}

func TestConfig_EmptyPlatformRejected(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Platforms = []string{"threads", ""}
	if err := cfg.Validate(); err == nil {
		t.Fatal("blank platform should fail")
	}
}

func TestLoad_YAMLWithEnv(t *testing.T) {
	t.Setenv("REFDRAFT_TEST_TOKEN", "s3cret")
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
app:
  log_level: debug
  http:
    port: 9090
sqlite:
  path: /tmp/refdraft.db
auth:
  mode: token
  token: ${REFDRAFT_TEST_TOKEN}
inbox:
  enabled: true
  path: /tmp/inbox
  on_duplicate: save
backfill:
  chunk_size: 100
  chunk_delay: 250ms
  run_on_start: true
view:
  debounce: 50ms
platforms: [threads, x]
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.HTTP.Port != 9090 || cfg.Auth.Token != "s3cret" {
		t.Errorf("app/auth = %+v %+v", cfg.App, cfg.Auth)
	}
	if cfg.Inbox.OnDuplicate != inbox.PolicySave {
		t.Errorf("on_duplicate = %q", cfg.Inbox.OnDuplicate)
	}
	if cfg.Backfill.ChunkDelay != 250*time.Millisecond || !cfg.Backfill.RunOnStart {
		t.Errorf("backfill = %+v", cfg.Backfill)
	}
	if len(cfg.Platforms) != 2 {
		t.Errorf("platforms = %v", cfg.Platforms)
	}
	if cfg.Duplicate.MinLength != 10 {
		t.Errorf("min_length default lost: %d", cfg.Duplicate.MinLength)
	}
}
