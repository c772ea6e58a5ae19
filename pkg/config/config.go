package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// App is the per-application deployment configuration, read once at the
// start of every invocation. All components receive the parts they need
// explicitly; nothing in this package is a process-wide global.
type App struct {
	// Name identifies the application; container names derive from it.
	Name string `yaml:"app"`

	// Domain is the public hostname the proxy serves the app under.
	Domain string `yaml:"domain"`

	// Port is the container port the app listens on.
	Port int `yaml:"port"`

	// HealthPath is the in-container HTTP health endpoint.
	HealthPath string `yaml:"healthPath"`

	// HealthMarker is the substring the health body must contain.
	HealthMarker string `yaml:"healthMarker"`

	// Services lists the compose services making up one container set.
	// The first entry is the primary (proxied, health-gated) service.
	Services []string `yaml:"services"`

	// AppDir is the directory on the target host holding the canonical
	// compose file.
	AppDir string `yaml:"appDir"`

	// Network is the shared container network the proxy lives on.
	Network string `yaml:"network"`

	Host   Host   `yaml:"host"`
	Proxy  Proxy  `yaml:"proxy"`
	Image  Image  `yaml:"image"`
	Deploy Deploy `yaml:"deploy"`
	Cloud  Cloud  `yaml:"cloud"`

	// AuditLog is the local append-only deployment log path.
	AuditLog string `yaml:"auditLog"`
}

// Host describes the SSH endpoint of the deployment target.
type Host struct {
	Addr       string `yaml:"addr"`
	User       string `yaml:"user"`
	KeyFile    string `yaml:"keyFile"`
	KnownHosts string `yaml:"knownHosts"`
}

// Proxy locates the reverse proxy on the target host.
type Proxy struct {
	// Container is the proxy's container name (nginx).
	Container string `yaml:"container"`

	// ConfPath is the app's upstream config file on the host.
	ConfPath string `yaml:"confPath"`
}

// TransferMode selects how built images reach the target host.
type TransferMode string

const (
	// TransferRegistry pushes locally and pulls on the target.
	TransferRegistry TransferMode = "registry"

	// TransferSSH streams docker save output over the SSH channel.
	TransferSSH TransferMode = "ssh"
)

// Image configures the build and transfer pipeline.
type Image struct {
	// Repository is the image name without tag.
	Repository string `yaml:"repository"`

	// Transfer is "registry" or "ssh".
	Transfer TransferMode `yaml:"transfer"`

	// Platform optionally cross-builds for the target architecture
	// (e.g. linux/arm64 when building on amd64 for Graviton hosts).
	Platform string `yaml:"platform"`

	// BuildContext is the local build directory. Default ".".
	BuildContext string `yaml:"buildContext"`
}

// Deploy tunes the promotion state machine.
type Deploy struct {
	// HealthAttempts bounds the health gate polling loop.
	HealthAttempts int `yaml:"healthAttempts"`

	// HealthDelay is the fixed wait between health attempts.
	HealthDelay time.Duration `yaml:"healthDelay"`

	// RollbackHealthAttempts is the shortened budget used on rollback.
	RollbackHealthAttempts int `yaml:"rollbackHealthAttempts"`

	// CrashLoopThreshold is the restart-count delta that classifies a
	// container as crash-looping before the budget is spent.
	CrashLoopThreshold int `yaml:"crashLoopThreshold"`

	// Settle is how long in-flight connections get to drain off the old
	// route after the proxy flip, before the old set is removed.
	Settle time.Duration `yaml:"settle"`
}

// Cloud configures the dual-port network workaround.
type Cloud struct {
	Region     string `yaml:"region"`
	InstanceID string `yaml:"instanceID"`

	// Interface is the node's primary network interface (e.g. ens5).
	Interface string `yaml:"iface"`

	// APIHosts are the SNI names routed to the API-server backend.
	APIHosts []string `yaml:"apiHosts"`

	// APIBackend and IngressBackend are host:port targets for the SNI
	// proxy.
	APIBackend     string `yaml:"apiBackend"`
	IngressBackend string `yaml:"ingressBackend"`
}

// Load reads and validates an application config file.
func Load(path string) (*App, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *App {
	return &App{
		HealthPath:   "/health",
		HealthMarker: "ok",
		Services:     []string{"app"},
		Network:      "edge",
		Image: Image{
			Transfer:     TransferRegistry,
			BuildContext: ".",
		},
		Deploy: Deploy{
			HealthAttempts:         30,
			HealthDelay:            2 * time.Second,
			RollbackHealthAttempts: 10,
			CrashLoopThreshold:     3,
			Settle:                 5 * time.Second,
		},
		AuditLog: defaultAuditLog(),
	}
}

// defaultAuditLog keeps auditing on unless the operator disables it by
// setting auditLog to an empty string in the config file.
func defaultAuditLog() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".cutover", "deployments.log")
}

// Validate checks the fields every deployment needs.
func (a *App) Validate() error {
	switch {
	case a.Name == "":
		return fmt.Errorf("config: app name is required")
	case a.Port <= 0 || a.Port > 65535:
		return fmt.Errorf("config: port %d out of range", a.Port)
	case a.Host.Addr == "":
		return fmt.Errorf("config: host.addr is required")
	case a.AppDir == "":
		return fmt.Errorf("config: appDir is required")
	case len(a.Services) == 0:
		return fmt.Errorf("config: at least one service is required")
	}

	if a.Image.Transfer != TransferRegistry && a.Image.Transfer != TransferSSH {
		return fmt.Errorf("config: image.transfer must be %q or %q", TransferRegistry, TransferSSH)
	}

	return nil
}
