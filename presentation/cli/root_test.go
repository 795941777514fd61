package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"shop_automation/domain/entities"
	"shop_automation/infrastructure/config"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, input string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCmd(strings.NewReader(input), &out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.NewConfigFromViper(v)
	require.NoError(t, err)
	return cfg
}

func TestChatExitsWithoutOpeningBrowser(t *testing.T) {
	t.Chdir(t.TempDir())

	out, _, err := execute(t, "help me\nexit\n", "chat", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "You> ")
	assert.Contains(t, out, "Agent: I didn't understand.")
	assert.Contains(t, out, "Agent: Conversation ended.")
}

func TestUnknownBackendRejected(t *testing.T) {
	t.Chdir(t.TempDir())

	_, _, err := execute(t, "", "run", "--backend", "selenium")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "browser.backend")
}

func TestConfigFileAndFlags(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	cfgPath := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("schedule:\n  interval: 0s\n"), 0o600))

	_, _, err := execute(t, "", "schedule", "--config", cfgPath)
	require.Error(t, err, "zero interval from the file is invalid")
	assert.Contains(t, err.Error(), "schedule.interval")

	a := &app{}
	root := NewRootCmd(strings.NewReader(""), &bytes.Buffer{})
	sched, _, err := root.Find([]string{"schedule"})
	require.NoError(t, err)
	require.NoError(t, sched.ParseFlags([]string{"--config", cfgPath, "--interval", "5m", "--proxy", "https://proxy.local:3128", "--search", "Nokia"}))
	a.cfgFile = cfgPath
	require.NoError(t, a.initialize(sched))
	assert.Equal(t, 5*time.Minute, a.cfg.Schedule.Interval)
	assert.Equal(t, "https://proxy.local:3128", a.cfg.Browser.Proxy)
	assert.Equal(t, "Nokia", a.cfg.Target.SearchTerm)
	require.NoError(t, a.closer.Close())
}

func TestEngineOptionsFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retry.Navigation.MaxAttempts = 5
	cfg.Timeouts.Settle = 0
	cfg.Artifacts.Dir = "/tmp/artifacts"

	opts, err := engineOptions(cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.Target.URL, opts.TargetURL)
	assert.Equal(t, 5, opts.NavigationPolicy.MaxAttempts())
	assert.Equal(t, 1, opts.StagePolicy.MaxAttempts())
	assert.Equal(t, time.Duration(0), opts.SettleDelay)
	assert.Equal(t, "/tmp/artifacts", opts.ArtifactsDir)
	assert.Equal(t, entities.DemoblazeProfile(), opts.Site)

	cfg.Retry.Stage.Multiplier = 0.5
	_, err = engineOptions(cfg)
	assert.Error(t, err)
}

func TestBrowserConfigFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Browser.DebugPort = 9333
	cfg.Browser.Attach = true

	bc := browserConfig(cfg)
	assert.Equal(t, 9333, bc.Remote.DebugPort)
	assert.True(t, bc.Remote.Attach)
	assert.True(t, bc.Script.Attach)
	assert.Equal(t, "Google Chrome", bc.Script.Application)
	assert.Equal(t, 100*time.Millisecond, bc.InProcess.SlowMoMin)
	assert.Equal(t, 500*time.Millisecond, bc.InProcess.SlowMoMax)
}

func TestBuildEngine(t *testing.T) {
	cfg := testConfig(t)
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})

	for _, kind := range []entities.BackendKind{entities.BackendInProcess, entities.BackendScriptInjection, entities.BackendRemoteProtocol} {
		engine, err := buildEngine(cfg, kind, logger)
		require.NoError(t, err)
		assert.Equal(t, kind, engine.Transport().Kind())
	}

	_, err := buildEngine(cfg, entities.BackendKind("webdriver"), logger)
	assert.Error(t, err)

	cfg.Session.Enabled = false
	assert.Nil(t, sessionStore(cfg, logger))
}

func TestChatBackend(t *testing.T) {
	cfg := testConfig(t)
	a := &app{cfg: cfg}

	cmd := newChatCmd(a)
	cmd.Flags().String("backend", "", "")
	assert.Equal(t, entities.NativeBackendFor(runtime.GOOS), chatBackend(a, cmd), "configured default does not apply to chat")

	require.NoError(t, cmd.Flags().Set("backend", "inprocess"))
	cfg.Browser.Backend = "inprocess"
	assert.Equal(t, entities.BackendInProcess, chatBackend(a, cmd))
}
