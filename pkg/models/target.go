package models

// TargetKind distinguishes processes the harness manages from ones it only talks to
type TargetKind string

const (
	KindManaged  TargetKind = "managed"  // Supervisor builds/starts/stops the process
	KindExternal TargetKind = "external" // Pre-running server, health-checked only
)

// HealthState is the observed liveness of a target
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"   // Not yet probed
	HealthHealthy   HealthState = "healthy"   // Probe succeeded
	HealthUnhealthy HealthState = "unhealthy" // Probe timed out or launch failed
)

// Target is one server under test
type Target struct {
	ID      string      `json:"id"`
	BaseURL string      `json:"base_url"`
	Kind    TargetKind  `json:"kind"`
	Health  HealthState `json:"health,omitempty"`

	// HealthPath overrides the default liveness endpoint path
	HealthPath string `json:"health_path,omitempty"`

	// Launch describes how to start a managed target; nil for external targets
	Launch *LaunchSpec `json:"launch,omitempty"`
}

// LaunchSpec describes how the supervisor brings a managed target up
type LaunchSpec struct {
	// BuildDir is a Go package directory to compile before starting.
	// Empty means Command points at a prebuilt binary.
	BuildDir string `json:"build_dir,omitempty"`

	// Command is the argv to execute. With BuildDir set, Command[0] is
	// replaced by the freshly built binary and the rest are passed through.
	Command []string `json:"command,omitempty"`

	Dir string   `json:"dir,omitempty"`
	Env []string `json:"env,omitempty"`

	// Remote, when set, launches the target on another host over SSH
	Remote *RemoteSpec `json:"remote,omitempty"`
}

// RemoteSpec holds the SSH connection details for a remotely launched target
type RemoteSpec struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	User       string `json:"user"`
	KeyFile    string `json:"key_file"`
	RemoteDir  string `json:"remote_dir,omitempty"` // Defaults to /tmp/tokensweep
	GOOS       string `json:"goos,omitempty"`       // Cross-compile target, defaults linux
	GOARCH     string `json:"goarch,omitempty"`     // Defaults amd64
	ListenAddr string `json:"listen_addr,omitempty"`
}

// HealthURL returns the absolute liveness endpoint for the target
func (t *Target) HealthURL() string {
	path := t.HealthPath
	if path == "" {
		path = "/healthz"
	}
	return t.BaseURL + path
}

// Managed reports whether the supervisor owns this target's process
func (t *Target) Managed() bool {
	return t.Kind == KindManaged
}
