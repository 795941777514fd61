package browser

import (
	"os"
	"testing"
	"time"

	"shop_automation/domain/entities"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChromeArgs(t *testing.T) {
	args := ChromeArgs(entities.LaunchOptions{
		Headless:      true,
		Proxy:         "http://10.0.0.5:3128/",
		ExtensionPath: "/ext/solver",
		DebugPort:     9222,
	}, "/tmp/profile", "https://www.demoblaze.com/")

	assert.Equal(t, []string{
		"--remote-debugging-port=9222",
		"--headless=new",
		"--new-window",
		"--user-data-dir=/tmp/profile",
		"--proxy-server=http=10.0.0.5:3128;https=10.0.0.5:3128",
		"--proxy-bypass-list=<-loopback>",
		"--load-extension=/ext/solver",
		"https://www.demoblaze.com/",
	}, args)
}

func TestChromeArgsMinimal(t *testing.T) {
	assert.Equal(t, []string{"--new-window"}, ChromeArgs(entities.LaunchOptions{}, "", ""))
}

func TestUserDataDir(t *testing.T) {
	dir, cleanup, err := userDataDir(entities.LaunchOptions{}, false)
	require.NoError(t, err)
	assert.Empty(t, dir)
	cleanup()

	dir, cleanup, err = userDataDir(entities.LaunchOptions{Proxy: "1.2.3.4:8080"}, false)
	require.NoError(t, err)
	assert.DirExists(t, dir)
	cleanup()
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	explicit := t.TempDir() + "/profile"
	dir, cleanup, err = userDataDir(entities.LaunchOptions{UserDataDir: explicit}, true)
	require.NoError(t, err)
	assert.Equal(t, explicit, dir)
	cleanup()
	assert.DirExists(t, explicit)
}

func TestFindChromeBinaryHonoursEnv(t *testing.T) {
	bin := t.TempDir() + "/chrome"
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0755))
	t.Setenv("CHROME_BINARY_PATH", bin)
	assert.Equal(t, bin, FindChromeBinary("linux"))
}

func TestBuildLaunchOptions(t *testing.T) {
	launch := buildLaunchOptions(entities.LaunchOptions{Proxy: "https://proxy.local:8080", ExtensionPath: "/ext"}, 250*time.Millisecond)

	assert.False(t, *launch.Headless)
	assert.Equal(t, 250.0, *launch.SlowMo)
	assert.Contains(t, launch.Args, "--disable-blink-features=AutomationControlled")
	assert.Contains(t, launch.Args, "--load-extension=/ext")
	require.NotNil(t, launch.Proxy)
	assert.Equal(t, "http://proxy.local:8080", launch.Proxy.Server)
	assert.Equal(t, playwright.String("<-loopback>"), launch.Proxy.Bypass)
}

func TestSlowMoWithinBounds(t *testing.T) {
	cfg := InProcessConfig{SlowMoMin: 100 * time.Millisecond, SlowMoMax: 500 * time.Millisecond}.withDefaults()
	for i := 0; i < 50; i++ {
		d := cfg.slowMo()
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 500*time.Millisecond)
	}
	assert.Equal(t, 1366, cfg.ViewportWidth)
	assert.Equal(t, 768, cfg.ViewportHeight)
}

func TestNewTransportSelectsBackend(t *testing.T) {
	for _, kind := range []entities.BackendKind{entities.BackendInProcess, entities.BackendScriptInjection, entities.BackendRemoteProtocol} {
		tr, err := NewTransport(kind, quietLogger(), Config{})
		require.NoError(t, err)
		assert.Equal(t, kind, tr.Kind())
	}
	_, err := NewTransport("selenium", quietLogger(), Config{})
	assert.Error(t, err)
}
