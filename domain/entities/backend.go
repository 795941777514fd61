package entities

import (
	"fmt"
	"strings"
)

// BackendKind identifies which transport adapter drives the browser
type BackendKind string

const (
	BackendInProcess       BackendKind = "inprocess"
	BackendScriptInjection BackendKind = "script"
	BackendRemoteProtocol  BackendKind = "remote"
)

// ParseBackendKind - parses a backend name, accepting a few aliases
func ParseBackendKind(s string) (BackendKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inprocess", "in-process", "playwright":
		return BackendInProcess, nil
	case "script", "script-injection", "applescript":
		return BackendScriptInjection, nil
	case "remote", "remote-protocol", "devtools", "cdp":
		return BackendRemoteProtocol, nil
	}
	return "", fmt.Errorf("unknown backend %q", s)
}

// NativeBackendFor returns the backend used to drive an already visible browser on the given OS.
// macOS scripts the running browser, every other platform goes through the debugging port.
func NativeBackendFor(goos string) BackendKind {
	if goos == "darwin" {
		return BackendScriptInjection
	}
	return BackendRemoteProtocol
}

// LaunchOptions controls how a transport starts (or attaches to) the browser process
type LaunchOptions struct {
	Headless      bool   `json:"headless"`
	Proxy         string `json:"proxy,omitempty"`
	ExtensionPath string `json:"extension_path,omitempty"`
	UserDataDir   string `json:"user_data_dir,omitempty"`
	DebugPort     int    `json:"debug_port,omitempty"`
}

// ProxyHostPort strips any http:// or https:// prefix from the configured proxy
func (o LaunchOptions) ProxyHostPort() string {
	p := strings.TrimSpace(o.Proxy)
	p = strings.TrimPrefix(p, "http://")
	p = strings.TrimPrefix(p, "https://")
	return strings.TrimSuffix(p, "/")
}
