package browser

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"shop_automation/domain/entities"
)

// Process is a browser process spawned by a transport
type Process interface {
	Pid() int
	Terminate() error
}

// ProcessStarter spawns long-running processes
type ProcessStarter interface {
	Start(name string, args ...string) (Process, error)
}

// CommandRunner runs a short-lived command to completion
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execStarter struct{}

type execProcess struct {
	cmd  *exec.Cmd
	done chan error
	once sync.Once
	err  error
}

// NewExecStarter - starts processes with os/exec
func NewExecStarter() ProcessStarter {
	return execStarter{}
}

func (execStarter) Start(name string, args ...string) (Process, error) {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &execProcess{cmd: cmd, done: make(chan error, 1)}
	go func() {
		p.done <- cmd.Wait()
	}()
	return p, nil
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

// Terminate kills the process and waits for it to be reaped
func (p *execProcess) Terminate() error {
	p.once.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		if err := p.cmd.Process.Kill(); err != nil {
			p.err = fmt.Errorf("failed to kill pid %d: %w", p.Pid(), err)
			return
		}
		select {
		case <-p.done:
		case <-time.After(5 * time.Second):
			p.err = fmt.Errorf("pid %d did not exit after kill", p.Pid())
		}
	})
	return p.err
}

type execRunner struct{}

// NewExecRunner - runs commands with os/exec
func NewExecRunner() CommandRunner {
	return execRunner{}
}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// FindChromeBinary - finds a Chrome/Chromium executable for the given OS
func FindChromeBinary(goos string) string {
	if path := os.Getenv("CHROME_BINARY_PATH"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	var chromePaths []string
	switch goos {
	case "darwin":
		chromePaths = []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
	case "windows":
		chromePaths = []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		}
	default:
		chromePaths = []string{
			"/usr/bin/google-chrome",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
		}
	}

	for _, path := range chromePaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "chrome"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	if goos == "windows" {
		return chromePaths[0]
	}
	return "google-chrome"
}

func defaultChromeBinary() string {
	return FindChromeBinary(runtime.GOOS)
}

// ChromeArgs builds the command line for a visible (or headless) Chrome window.
// The target URL is always the last argument.
func ChromeArgs(opts entities.LaunchOptions, userDataDir, target string) []string {
	var args []string
	if opts.DebugPort > 0 {
		args = append(args, fmt.Sprintf("--remote-debugging-port=%d", opts.DebugPort))
	}
	if opts.Headless {
		args = append(args, "--headless=new")
	}
	args = append(args, "--new-window")
	if userDataDir != "" {
		args = append(args, "--user-data-dir="+userDataDir)
	}
	if hp := opts.ProxyHostPort(); hp != "" {
		args = append(args,
			fmt.Sprintf("--proxy-server=http=%s;https=%s", hp, hp),
			"--proxy-bypass-list=<-loopback>",
		)
	}
	if opts.ExtensionPath != "" {
		args = append(args, "--load-extension="+opts.ExtensionPath)
	}
	if target != "" {
		args = append(args, target)
	}
	return args
}

// userDataDir returns the profile directory for a launch. When the options name none and
// the launch needs an isolated profile, a temporary one is created and cleanup removes it.
func userDataDir(opts entities.LaunchOptions, isolated bool) (string, func(), error) {
	noop := func() {}
	if opts.UserDataDir != "" {
		if err := os.MkdirAll(opts.UserDataDir, 0755); err != nil {
			return "", noop, fmt.Errorf("failed to create user data directory: %w", err)
		}
		return opts.UserDataDir, noop, nil
	}
	if !isolated && opts.Proxy == "" {
		return "", noop, nil
	}
	dir, err := os.MkdirTemp("", "shopbot-profile-")
	if err != nil {
		return "", noop, fmt.Errorf("failed to create temporary profile: %w", err)
	}
	return dir, func() { os.RemoveAll(filepath.Clean(dir)) }, nil
}
