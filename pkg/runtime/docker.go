package runtime

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hullside/cutover/pkg/log"
	"github.com/hullside/cutover/pkg/remote"
	"github.com/hullside/cutover/pkg/types"
)

// inspectFormat pulls the fields the orchestrator cares about in one
// round trip. Fields are pipe-separated to keep parsing trivial.
const inspectFormat = `{{.State.Status}}|{{.RestartCount}}|{{.Config.Image}}|{{.State.StartedAt}}`

// DockerClient drives the docker CLI on a target host through a
// remote.Runner. It is the only package that knows docker's command
// syntax; everything above it works with typed results.
type DockerClient struct {
	runner remote.Runner
	logger zerolog.Logger
}

// NewDockerClient creates a client bound to one target host.
func NewDockerClient(runner remote.Runner) *DockerClient {
	return &DockerClient{
		runner: runner,
		logger: log.WithComponent("runtime").With().Str("host", runner.Target()).Logger(),
	}
}

// Container returns a snapshot of the named container. A missing
// container is not an error; it comes back with ContainerStateMissing.
func (d *DockerClient) Container(ctx context.Context, name string) (types.ContainerInfo, error) {
	res, err := d.runner.Run(ctx, remote.Command{
		Line:   fmt.Sprintf("docker inspect --format '%s' %s", inspectFormat, remote.Quote(name)),
		OKExit: []int{0, 1},
	})
	if err != nil {
		return types.ContainerInfo{}, fmt.Errorf("failed to inspect %s: %w", name, err)
	}

	if res.ExitCode != 0 {
		if strings.Contains(res.Stderr, "No such object") ||
			strings.Contains(res.Stderr, "No such container") {
			return types.ContainerInfo{Name: name, State: types.ContainerStateMissing}, nil
		}
		return types.ContainerInfo{}, fmt.Errorf("failed to inspect %s: %s", name, strings.TrimSpace(res.Stderr))
	}

	return parseInspect(name, strings.TrimSpace(res.Stdout))
}

func parseInspect(name, out string) (types.ContainerInfo, error) {
	parts := strings.SplitN(out, "|", 4)
	if len(parts) != 4 {
		return types.ContainerInfo{}, fmt.Errorf("unexpected inspect output for %s: %q", name, out)
	}

	restarts, err := strconv.Atoi(parts[1])
	if err != nil {
		return types.ContainerInfo{}, fmt.Errorf("bad restart count for %s: %q", name, parts[1])
	}

	info := types.ContainerInfo{
		Name:         name,
		Image:        parts[2],
		RestartCount: restarts,
	}

	switch parts[0] {
	case "running":
		info.State = types.ContainerStateRunning
	case "restarting":
		info.State = types.ContainerStateRestarting
	case "exited", "created", "dead", "paused":
		info.State = types.ContainerStateExited
	default:
		info.State = types.ContainerStateExited
	}

	if started, err := time.Parse(time.RFC3339Nano, parts[3]); err == nil {
		info.StartedAt = started
	}

	return info, nil
}

// ListNames returns every container (running or not) whose name starts
// with prefix.
func (d *DockerClient) ListNames(ctx context.Context, prefix string) ([]string, error) {
	res, err := d.runner.Run(ctx, remote.Command{
		Line: fmt.Sprintf("docker ps -a --format '{{.Names}}' --filter name=%s",
			remote.Quote("^"+prefix)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	return res.Lines(), nil
}

// ComposeUp starts the services of a compose file without recreating
// containers that already exist. The project name isolates the color's
// resources from the other color's.
func (d *DockerClient) ComposeUp(ctx context.Context, file, project string) error {
	d.logger.Debug().Str("file", file).Str("project", project).Msg("compose up")

	_, err := d.runner.Run(ctx, remote.Command{
		Line: fmt.Sprintf("docker compose -f %s -p %s up -d --no-recreate",
			remote.Quote(file), remote.Quote(project)),
	})
	if err != nil {
		return fmt.Errorf("compose up failed for %s: %w", file, err)
	}
	return nil
}

// Start starts stopped containers by name.
func (d *DockerClient) Start(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	_, err := d.runner.Run(ctx, remote.Command{
		Line: "docker start " + quoteAll(names),
	})
	if err != nil {
		return fmt.Errorf("failed to start containers: %w", err)
	}
	return nil
}

// StopAndRemove stops and removes the named containers. Containers that
// no longer exist are skipped, so a partially cleaned-up set does not
// block the drain.
func (d *DockerClient) StopAndRemove(ctx context.Context, names []string) error {
	var errs []error
	for _, name := range names {
		info, err := d.Container(ctx, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !info.Exists() {
			continue
		}

		d.logger.Debug().Str("container", name).Msg("removing container")
		_, err = d.runner.Run(ctx, remote.Command{
			Line: fmt.Sprintf("docker rm -f %s", remote.Quote(name)),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// ConnectNetwork joins a container to a network. Already-joined
// containers are skipped, which keeps promotion idempotent.
func (d *DockerClient) ConnectNetwork(ctx context.Context, network, container string) error {
	res, err := d.runner.Run(ctx, remote.Command{
		Line: fmt.Sprintf("docker network connect %s %s",
			remote.Quote(network), remote.Quote(container)),
		OKExit: []int{0, 1},
	})
	if err != nil {
		return fmt.Errorf("failed to connect %s to %s: %w", container, network, err)
	}
	if res.ExitCode != 0 && !strings.Contains(res.Stderr, "already exists in network") {
		return fmt.Errorf("failed to connect %s to %s: %s",
			container, network, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// Exec runs a command inside a running container and returns its output.
func (d *DockerClient) Exec(ctx context.Context, container, command string) (remote.Result, error) {
	return d.runner.Run(ctx, remote.Command{
		Line: fmt.Sprintf("docker exec %s sh -c %s",
			remote.Quote(container), remote.Quote(command)),
	})
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = remote.Quote(n)
	}
	return strings.Join(quoted, " ")
}
