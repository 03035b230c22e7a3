package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zalando/go-keyring"
)

// testEnv isolates a command run in a temp dir with a config file pointing
// at a fresh SQLite database and the given completion endpoint.
func testEnv(t *testing.T, apiURL string) string {
	t.Helper()
	keyring.MockInit()

	dir := t.TempDir()
	t.Chdir(dir)
	for _, v := range []string{
		"DATABASE_URL", "PERPLEXITY_API_KEY", "ALLOWED_USER_ID", "TELEGRAM_BOT_TOKEN",
		"TELOXIDE_TOKEN", "DISCORD_BOT_TOKEN", "JARVIS_MODEL", "JARVIS_API_BASE_URL",
	} {
		t.Setenv(v, "")
	}

	cfg := `name: Jarvis
allowed_user_id: 42
database:
  url: sqlite://jarvis.db
api:
  base_url: ` + apiURL + `
  api_key: test-key
heartbeat:
  enabled: false
logging:
  level: error
`
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCommands(t *testing.T) {
	root := NewRootCmd("1.2.3")
	if root.Version != "1.2.3" {
		t.Errorf("version = %q", root.Version)
	}

	want := []string{"serve", "chat", "migrate", "profile", "health", "setup", "config"}
	for _, name := range want {
		if _, _, err := root.Find([]string{name}); err != nil {
			t.Errorf("subcommand %q not registered: %v", name, err)
		}
	}
	for _, flag := range []string{"config", "verbose"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("missing persistent flag --%s", flag)
		}
	}
}

func TestMigrateAndProfileList(t *testing.T) {
	path := testEnv(t, "http://127.0.0.1:1")

	out, err := run(t, "migrate", "-c", path)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out, "migrated schema from version 0") {
		t.Errorf("migrate output = %q", out)
	}

	out, err = run(t, "migrate", "-c", path)
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if !strings.Contains(out, "up to date") {
		t.Errorf("second migrate output = %q", out)
	}

	out, err = run(t, "profile", "list", "-c", path)
	if err != nil {
		t.Fatalf("profile list: %v", err)
	}
	if !strings.Contains(out, "no profiles stored") {
		t.Errorf("profile list output = %q", out)
	}
}

func TestChatOnceAndProfileShow(t *testing.T) {
	var gotSystem string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.Messages) > 0 {
			gotSystem = body.Messages[0].Content
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Hallo Eva!"}}]}`))
	}))
	defer srv.Close()

	path := testEnv(t, srv.URL)

	out, err := run(t, "chat", "-c", path, "--name", "Eva", "Hallo")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if strings.TrimSpace(out) != "Hallo Eva!" {
		t.Errorf("chat output = %q", out)
	}
	if !strings.HasPrefix(gotSystem, "Du bist ein persönlicher Assistent für Eva.") {
		t.Errorf("system context = %q", gotSystem)
	}

	if _, err := run(t, "chat", "-c", path, "--name", "Eva", "/addinterest Musik"); err != nil {
		t.Fatalf("chat command: %v", err)
	}

	out, err = run(t, "profile", "show", "42", "--json", "-c", path)
	if err != nil {
		t.Fatalf("profile show: %v", err)
	}
	var p struct {
		ExternalID  int64    `json:"external_id"`
		DisplayName string   `json:"display_name"`
		Interests   []string `json:"interests"`
	}
	if err := json.Unmarshal([]byte(out), &p); err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}
	if p.ExternalID != 42 || p.DisplayName != "Eva" || len(p.Interests) != 1 || p.Interests[0] != "Musik" {
		t.Errorf("profile = %+v", p)
	}
}

func TestChat_InvalidConfig(t *testing.T) {
	path := testEnv(t, "http://127.0.0.1:1")
	data, _ := os.ReadFile(path)
	stripped := strings.Replace(string(data), "allowed_user_id: 42\n", "", 1)
	if err := os.WriteFile(path, []byte(stripped), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := run(t, "chat", "-c", path, "Hallo")
	if err == nil || !strings.Contains(err.Error(), "allowed_user_id") {
		t.Fatalf("err = %v, want missing allowed_user_id", err)
	}
}

func TestWaitIdle(t *testing.T) {
	t.Run("waits for pending turns", func(t *testing.T) {
		var left atomic.Int32
		left.Store(3)
		pending := func() int {
			if n := left.Load(); n > 0 {
				left.Add(-1)
				return int(n)
			}
			return 0
		}

		waitIdle(context.Background(), pending, 5*time.Second)
		if left.Load() != 0 {
			t.Errorf("returned with %d turns pending", left.Load())
		}
	})

	t.Run("gives up after grace", func(t *testing.T) {
		start := time.Now()
		waitIdle(context.Background(), func() int { return 1 }, 100*time.Millisecond)
		if elapsed := time.Since(start); elapsed > 2*time.Second {
			t.Errorf("waited %v", elapsed)
		}
	})

	t.Run("stops on cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		start := time.Now()
		waitIdle(ctx, func() int { return 1 }, time.Minute)
		if elapsed := time.Since(start); elapsed > 2*time.Second {
			t.Errorf("waited %v", elapsed)
		}
	})
}

func TestShouldEnable(t *testing.T) {
	tests := []struct {
		name     string
		filter   []string
		def      bool
		expected bool
	}{
		{"telegram", nil, true, true},
		{"telegram", nil, false, false},
		{"telegram", []string{"telegram"}, false, true},
		{"discord", []string{"telegram"}, true, false},
	}
	for _, tt := range tests {
		if got := shouldEnable(tt.name, tt.filter, tt.def); got != tt.expected {
			t.Errorf("shouldEnable(%q, %v, %v) = %v", tt.name, tt.filter, tt.def, got)
		}
	}
}

func TestBotCommands(t *testing.T) {
	cmds := botCommands()
	if len(cmds) != 4 {
		t.Fatalf("len = %d, want 4", len(cmds))
	}
	if cmds[0].Command != "help" || cmds[2].Command != "addinterest" {
		t.Errorf("commands = %+v", cmds)
	}
	for _, c := range cmds {
		if c.Description == "" {
			t.Errorf("%s has no description", c.Command)
		}
	}
}

func TestMaskSecret(t *testing.T) {
	tests := map[string]string{
		"":                      "",
		"${PERPLEXITY_API_KEY}": "${PERPLEXITY_API_KEY}",
		"short":                 "****",
		"pplx-1234567890abcdef": "****cdef",
	}
	for in, want := range tests {
		if got := maskSecret(in); got != want {
			t.Errorf("maskSecret(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidators(t *testing.T) {
	if err := validateUserID("123"); err != nil {
		t.Errorf("validateUserID(123): %v", err)
	}
	for _, bad := range []string{"", "abc", "0", "-5"} {
		if validateUserID(bad) == nil {
			t.Errorf("validateUserID(%q) should fail", bad)
		}
	}
	if err := validateDatabaseURL("postgres://u:p@localhost/db"); err != nil {
		t.Errorf("validateDatabaseURL: %v", err)
	}
	if validateDatabaseURL("mysql://localhost/db") == nil {
		t.Error("mysql url should be rejected")
	}
}
