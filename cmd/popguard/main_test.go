package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/popguard/internal/config"
	"github.com/fyrsmithlabs/popguard/internal/decision"
	"github.com/fyrsmithlabs/popguard/internal/engine"
	"github.com/fyrsmithlabs/popguard/internal/learning"
	"github.com/fyrsmithlabs/popguard/internal/notify"
	"github.com/fyrsmithlabs/popguard/internal/popup"
	"github.com/fyrsmithlabs/popguard/internal/store"
)

// configHome points HOME at a temp dir and returns the config path inside it.
func configHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "popguard")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return filepath.Join(dir, "config.yaml")
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestEngineConfig_Defaults(t *testing.T) {
	got := engineConfig(config.Default())
	assert.Equal(t, engine.DefaultConfig(), got)
	assert.NoError(t, got.Validate())
}

func TestEngineConfig_Mapping(t *testing.T) {
	c := config.Default()
	c.Engine.PatternMaxAgeDays = 7
	c.Engine.PendingDecisionTimeoutMs = 2500
	c.Engine.AutoAction = true
	c.Engine.NotificationsEnabled = false
	c.Throttle.WindowMs = 10000
	c.Throttle.MemoryThresholdMB = 256
	c.Eviction.PendingStaleAfter = config.Duration(time.Minute)

	got := engineConfig(c)
	assert.Equal(t, 7*24*time.Hour, got.Learning.MaxAge)
	assert.Equal(t, 2500*time.Millisecond, got.Decision.Timeout)
	assert.True(t, got.Decision.AutoAction)
	assert.False(t, got.Notifications)
	assert.Equal(t, 10*time.Second, got.Throttle.Window)
	assert.Equal(t, uint64(256<<20), got.Throttle.MemoryThreshold)
	assert.Equal(t, time.Minute, got.Eviction.PendingStaleAfter)

	prefs := engine.PreferencesFrom(got)
	assert.True(t, prefs.AutoAction)
	assert.Equal(t, 7, prefs.MaxAgeDays)
	assert.False(t, prefs.Notifications)
}

func TestBuildNotifier(t *testing.T) {
	t.Run("log only is rate limited", func(t *testing.T) {
		ch, closeFn, err := buildNotifier(config.Default(), zap.NewNop())
		require.NoError(t, err)
		defer closeFn()
		assert.IsType(t, &notify.Limited{}, ch)
	})

	t.Run("nothing configured", func(t *testing.T) {
		c := config.Default()
		c.Notify.Log = false
		ch, closeFn, err := buildNotifier(c, zap.NewNop())
		require.NoError(t, err)
		defer closeFn()
		assert.Equal(t, notify.Nop{}, ch)
	})

	t.Run("unlimited", func(t *testing.T) {
		c := config.Default()
		c.Notify.RatePerSecond = 0
		ch, closeFn, err := buildNotifier(c, zap.NewNop())
		require.NoError(t, err)
		defer closeFn()
		assert.IsType(t, notify.Multi{}, ch)
	})

	t.Run("unreachable NATS fails", func(t *testing.T) {
		c := config.Default()
		c.Notify.NATSURL = "nats://127.0.0.1:1"
		_, closeFn, err := buildNotifier(c, zap.NewNop())
		defer closeFn()
		assert.ErrorContains(t, err, "failed to connect to NATS")
	})
}

func TestOpenStore(t *testing.T) {
	c := config.Default()
	c.Store.Driver = "memory"
	st, err := openStore(c, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryStore{}, st)
	require.NoError(t, st.Close())

	c.Store.Driver = "sqlite"
	c.Store.Path = filepath.Join(t.TempDir(), "nested", "popguard.db")
	st, err = openStore(c, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &store.SQLiteStore{}, st)
	require.NoError(t, st.Close())
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:    dev")
}

func TestPatternsCommands(t *testing.T) {
	path := configHome(t)
	dbPath := filepath.Join(t.TempDir(), "popguard.db")
	writeConfig(t, path, "store:\n  driver: sqlite\n  path: "+dbPath+"\n")

	// Seed one pattern the way the daemon would.
	ctx := context.Background()
	st, err := store.OpenSQLite(dbPath, nil)
	require.NoError(t, err)
	ps := learning.NewStore(learning.DefaultConfig(), learning.WithPersistence(st))
	r := popup.NewRecord("p1", "https://news.example.com/", "news.example.com",
		popup.Characteristics{IsModal: true, ZIndex: 9999, HasCloseButton: true, Dimensions: popup.Dimensions{Width: 400, Height: 300}},
		popup.DecisionClose, 0.9, time.Now())
	_, err = ps.Learn(ctx, r)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := execute(t, "--config", path, "patterns", "list")
	require.NoError(t, err)
	var patterns []popup.Pattern
	require.NoError(t, json.Unmarshal([]byte(out), &patterns), out)
	require.Len(t, patterns, 1)
	assert.Equal(t, popup.DecisionClose, patterns[0].Decision)
	assert.Equal(t, "news.example.com", patterns[0].Domain)

	out, err = execute(t, "--config", path, "patterns", "cleanup")
	require.NoError(t, err)
	var res map[string]int
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	assert.Equal(t, map[string]int{"removed": 0, "remaining": 1}, res)
}

func TestInvalidConfig(t *testing.T) {
	path := configHome(t)
	writeConfig(t, path, "server:\n  http_port: 0\n")
	_, err := execute(t, "--config", path, "patterns", "list")
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestConfigWatcher(t *testing.T) {
	path := configHome(t)
	writeConfig(t, path, "engine:\n  learning_enabled: true\n")

	var enabled atomic.Bool
	enabled.Store(true)
	var reloads atomic.Int32
	w, err := newConfigWatcher(path, zap.NewNop(), func(c *config.Config) {
		enabled.Store(c.Engine.LearningEnabled)
		reloads.Add(1)
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Other files in the directory are ignored; invalid content is skipped.
	writeConfig(t, filepath.Join(filepath.Dir(path), "notes.txt"), "x")
	writeConfig(t, path, "engine:\n  similarity_threshold: 7\n")
	writeConfig(t, path, "engine:\n  learning_enabled: false\n")

	require.Eventually(t, func() bool { return !enabled.Load() }, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, reloads.Load(), int32(1))
}

func TestApplyPreferences(t *testing.T) {
	eng, err := engine.New(engine.DefaultConfig())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, eng.Start(ctx))
	defer eng.Close(ctx)

	c := config.Default()
	c.Engine.AutoAction = true
	applyPreferences(ctx, eng, c, zap.NewNop())
	assert.True(t, eng.Preferences().AutoAction)

	c.Engine.SimilarityThreshold = 2
	applyPreferences(ctx, eng, c, zap.NewNop())
	assert.Equal(t, 0.7, eng.Preferences().SimilarityThreshold)
}

const replayScript = `
# first sighting is asked, then learned
{"op":"detect","tab":"t1","popup_id":"p1","element":ELEMENT}
{"op":"decide","tab":"t1","popup_id":"p1","decision":"close"}
{"op":"detect","tab":"t1","popup_id":"p2","element":ELEMENT}
{"op":"detect","tab":"t1","popup_id":"p2","element":ELEMENT}
{"op":"visibility","tab":"t2","visible":false}
{"op":"detect","tab":"t2","popup_id":"p3","element":ELEMENT}
{"op":"advance","advance_ms":60000}
{"op":"maintenance"}
{"op":"memory_pressure"}
{"op":"decide","tab":"t9","popup_id":"p1","decision":"close"}
{"op":"explode"}
not json
`

const replayElement = `{"url":"https://www.news.example.com/a","style":{"position":"fixed","z-index":"10000","box-shadow":"0 2px 8px #000"},"rect":{"x":440,"y":250,"width":400,"height":300},"viewport":{"width":1280,"height":800},"attributes":{"role":"dialog"},"descendants":[{"tag":"button","attributes":{"aria-label":"Close"}}]}`

func TestReplay(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.Learning.SuggestionThreshold = 0.6
	script := strings.ReplaceAll(replayScript, "ELEMENT", replayElement)

	sum, err := replay(context.Background(), strings.NewReader(script), cfg, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 11, sum.Steps)
	assert.Equal(t, 3, sum.Admitted)
	assert.Equal(t, 1, sum.Throttled)
	assert.Equal(t, map[decision.Outcome]int{
		decision.OutcomeAwaitingUser:  1,
		decision.OutcomeAutoSuggested: 1,
		decision.OutcomeDuplicate:     1,
	}, sum.Outcomes)
	assert.Equal(t, 1, sum.Resolved)
	// Pressure drops the single history and decision entries; closing then
	// settles p2 as a timeout.
	assert.Equal(t, 2, sum.Evicted)
	assert.Equal(t, 1, sum.Unsettled)
	assert.Equal(t, 1, sum.History)
	assert.Equal(t, 0, sum.Decisions)
	require.Len(t, sum.Patterns, 1)

	require.Len(t, sum.Errors, 3)
	assert.Equal(t, opDecide, sum.Errors[0].Op)
	assert.Equal(t, "explode", sum.Errors[1].Op)
	assert.Zero(t, sum.Errors[2].Op)
}

func TestReplayCmd(t *testing.T) {
	configHome(t)
	dir := t.TempDir()
	script := filepath.Join(dir, "script.jsonl")
	require.NoError(t, os.WriteFile(script, []byte(
		strings.ReplaceAll(`{"op":"detect","tab":"t1","popup_id":"p1","element":ELEMENT}`, "ELEMENT", replayElement)), 0600))

	out, err := execute(t, "replay", script)
	require.NoError(t, err)
	var sum replaySummary
	require.NoError(t, json.Unmarshal([]byte(out), &sum), out)
	assert.Equal(t, 1, sum.Admitted)

	_, err = execute(t, "replay", filepath.Join(dir, "missing.jsonl"))
	assert.ErrorContains(t, err, "failed to open script")
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func getJSON(url string, v interface{}) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func TestServe_HotReloadAndShutdown(t *testing.T) {
	path := configHome(t)
	port := freePort(t)
	base := fmt.Sprintf("server:\n  http_host: 127.0.0.1\n  http_port: %d\n  shutdown_timeout: 2s\nstore:\n  driver: memory\nlogging:\n  level: warn\n", port)
	writeConfig(t, path, base)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- serve(ctx, &rootOptions{configPath: path}) }()

	api := fmt.Sprintf("http://127.0.0.1:%d", port)
	require.Eventually(t, func() bool {
		var health map[string]interface{}
		return getJSON(api+"/health", &health) == nil
	}, 5*time.Second, 20*time.Millisecond)

	var prefs engine.Preferences
	require.NoError(t, getJSON(api+"/api/v1/preferences", &prefs))
	assert.False(t, prefs.AutoAction)

	writeConfig(t, path, base+"engine:\n  auto_action: true\n")
	require.Eventually(t, func() bool {
		var p engine.Preferences
		return getJSON(api+"/api/v1/preferences", &p) == nil && p.AutoAction
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancellation")
	}
}
