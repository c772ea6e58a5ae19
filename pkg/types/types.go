package types

import (
	"fmt"
	"time"
)

// Color labels one of the two parallel container sets of a blue-green
// deployment. ColorNone means no color-suffixed containers were found.
type Color string

const (
	ColorBlue  Color = "blue"
	ColorGreen Color = "green"
	ColorNone  Color = "none"
)

// Inverse returns the opposite color. ColorNone inverts to ColorBlue,
// which makes blue the first color a fresh host ever runs.
func (c Color) Inverse() Color {
	switch c {
	case ColorBlue:
		return ColorGreen
	case ColorGreen:
		return ColorBlue
	default:
		return ColorBlue
	}
}

// ParseColor converts a string into a Color, accepting only the two
// real colors. Anything else is an error; ColorNone is never parsed
// from input, only derived by the prober.
func ParseColor(s string) (Color, error) {
	switch Color(s) {
	case ColorBlue, ColorGreen:
		return Color(s), nil
	default:
		return ColorNone, fmt.Errorf("invalid color %q (want blue or green)", s)
	}
}

// ContainerState is the runtime status of a single container as
// reported by the container runtime on the target host.
type ContainerState string

const (
	ContainerStateRunning    ContainerState = "running"
	ContainerStateExited     ContainerState = "exited"
	ContainerStateRestarting ContainerState = "restarting"
	ContainerStateMissing    ContainerState = "missing"
)

// ContainerInfo is a point-in-time snapshot of one container.
type ContainerInfo struct {
	Name         string
	State        ContainerState
	Image        string
	RestartCount int
	StartedAt    time.Time
}

// Exists reports whether the container is present at all, in any state.
func (c ContainerInfo) Exists() bool {
	return c.State != ContainerStateMissing
}

// ContainerSet is the group of containers belonging to one color of one
// application: the main service container plus any auxiliary containers
// (cron runners and the like).
type ContainerSet struct {
	App         string
	Color       Color
	Names       []string
	ComposeFile string
	Legacy      bool // default-named containers from before color adoption
}

// Primary returns the name of the main service container, the one the
// proxy routes to and the health gate probes.
func (s ContainerSet) Primary() string {
	if len(s.Names) == 0 {
		return ""
	}
	return s.Names[0]
}

// ProbeResult is what the state prober learned about an application on
// the target host.
type ProbeResult struct {
	Color  Color
	Image  string
	Legacy bool
}

// ProxyRoute is the reverse-proxy binding from a public hostname to the
// live container set's endpoint.
type ProxyRoute struct {
	Domain   string
	Upstream string // container-name:port
}

// SecondaryBinding describes the secondary private/public IP pair that
// the dual-port network workaround installs on a node.
type SecondaryBinding struct {
	InterfaceID  string // cloud network interface (ENI) ID
	PrivateIP    string
	PublicIP     string
	AllocationID string
	Reused       bool // an idle elastic IP was reused instead of allocated
}

// DeploymentRecord is one line of the append-only audit log written for
// every deployment attempt, successful or not.
type DeploymentRecord struct {
	ID        string
	Timestamp time.Time
	Operator  string
	App       string
	Version   string
	Image     string
	Commit    string
	Result    string
}
