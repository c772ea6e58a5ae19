package health

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hullside/cutover/pkg/log"
	"github.com/hullside/cutover/pkg/remote"
	"github.com/hullside/cutover/pkg/retry"
	"github.com/hullside/cutover/pkg/types"
)

// Verdict classifies the outcome of health-gating a container.
type Verdict string

const (
	VerdictHealthy          Verdict = "healthy"
	VerdictUnhealthyTimeout Verdict = "unhealthy-timeout"
	VerdictCrashLooping     Verdict = "crash-looping"
	VerdictMissing          Verdict = "missing"
)

var (
	errMissing      = errors.New("container disappeared during health gating")
	errCrashLooping = errors.New("container is crash-looping")
)

// Runtime is the slice of the container runtime the gate needs.
type Runtime interface {
	Container(ctx context.Context, name string) (types.ContainerInfo, error)
	Exec(ctx context.Context, container, command string) (remote.Result, error)
}

// Config tunes the gate's polling loop.
type Config struct {
	// Attempts bounds the loop; Delay is the fixed wait between attempts.
	Attempts int
	Delay    time.Duration

	// CrashLoopThreshold is the restart-count increase (from the first
	// observation) beyond which the container is declared crash-looping
	// without spending the rest of the budget.
	CrashLoopThreshold int

	// Port and Path locate the in-container HTTP health endpoint.
	Port int
	Path string

	// Marker must appear in the response body. Empty accepts any 2xx.
	Marker string
}

// DefaultConfig returns the gate settings used when nothing overrides
// them: 30 attempts, 2 seconds apart, crash-loop threshold of 3.
func DefaultConfig(port int) Config {
	return Config{
		Attempts:           30,
		Delay:              2 * time.Second,
		CrashLoopThreshold: 3,
		Port:               port,
		Path:               "/health",
		Marker:             "ok",
	}
}

// Gate polls a container until it proves healthy or provably will not.
type Gate struct {
	rt     Runtime
	cfg    Config
	logger zerolog.Logger
}

// NewGate creates a health gate.
func NewGate(rt Runtime, cfg Config) *Gate {
	return &Gate{rt: rt, cfg: cfg, logger: log.WithComponent("health-gate")}
}

// Wait polls the container until it is healthy, crash-looping, gone, or
// the attempt budget runs out. Each attempt inspects runtime state and
// restart count, then probes the HTTP health endpoint inside the
// container. The restart-count check is what lets the gate give up
// early instead of burning the whole budget on a container that
// restarts forever.
func (g *Gate) Wait(ctx context.Context, container string) (Verdict, error) {
	baseline := -1

	err := retry.Fixed(g.cfg.Attempts, g.cfg.Delay).Do(ctx, func(ctx context.Context) error {
		info, err := g.rt.Container(ctx, container)
		if err != nil {
			return err
		}

		if !info.Exists() {
			return retry.Stop(errMissing)
		}

		// Baseline on first sight so pre-existing restarts don't count
		if baseline < 0 {
			baseline = info.RestartCount
		}
		if info.RestartCount-baseline > g.cfg.CrashLoopThreshold {
			g.logger.Error().Str("container", container).
				Int("restarts", info.RestartCount-baseline).
				Msg("restart count exceeded threshold")
			return retry.Stop(errCrashLooping)
		}

		if info.State != types.ContainerStateRunning {
			return fmt.Errorf("container %s is %s", container, info.State)
		}

		res, err := g.rt.Exec(ctx, container, g.probeCommand())
		if err != nil {
			return fmt.Errorf("health probe failed: %w", err)
		}
		if g.cfg.Marker != "" && !strings.Contains(res.Stdout, g.cfg.Marker) {
			return fmt.Errorf("health body missing marker %q: %q",
				g.cfg.Marker, strings.TrimSpace(res.Stdout))
		}

		g.logger.Info().Str("container", container).Msg("container is healthy")
		return nil
	})

	switch {
	case err == nil:
		return VerdictHealthy, nil
	case errors.Is(err, errMissing):
		return VerdictMissing, fmt.Errorf("%s: %w", container, errMissing)
	case errors.Is(err, errCrashLooping):
		return VerdictCrashLooping, fmt.Errorf("%s: %w", container, errCrashLooping)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return VerdictUnhealthyTimeout, err
	default:
		return VerdictUnhealthyTimeout,
			fmt.Errorf("%s never became healthy: %w", container, err)
	}
}

// probeCommand builds the in-container probe. wget ships with the
// alpine-based images these stacks run; curl is the fallback.
func (g *Gate) probeCommand() string {
	url := fmt.Sprintf("http://127.0.0.1:%d%s", g.cfg.Port, g.cfg.Path)
	return fmt.Sprintf("wget -qO- -T 2 %s 2>/dev/null || curl -fsS -m 2 %s", url, url)
}
