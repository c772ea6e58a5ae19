package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hullside/cutover/pkg/audit"
	"github.com/hullside/cutover/pkg/compose"
	"github.com/hullside/cutover/pkg/config"
	"github.com/hullside/cutover/pkg/health"
	"github.com/hullside/cutover/pkg/image"
	"github.com/hullside/cutover/pkg/log"
	"github.com/hullside/cutover/pkg/remote"
	"github.com/hullside/cutover/pkg/types"
)

// State names the deployer's position in the promotion state machine.
// Failures carry the state they happened in so the operator knows what
// was and was not touched.
type State string

const (
	StateIdle             State = "idle"
	StateNewColorStarting State = "new-color-starting"
	StateHealthGating     State = "health-gating"
	StatePromoting        State = "promoting"
	StateDrainingOld      State = "draining-old"
	StateDone             State = "done"
	StateAborting         State = "aborting"
)

var (
	// ErrNameCollision means containers with the target color's names
	// already exist. A previous deployment likely died between starting
	// the new set and draining the old; only an operator can decide
	// which set to keep, so this is never auto-resolved.
	ErrNameCollision = errors.New("target color containers already exist (previous deployment may have failed, clean up manually)")

	// ErrNothingToRollBack means no previous color exists on the host.
	ErrNothingToRollBack = errors.New("nothing to roll back to: no previous color found")

	// ErrStaleImage means the candidate image is not fresher than what
	// is already running. --force overrides.
	ErrStaleImage = errors.New("candidate image is not fresher than the running one")
)

// StateError wraps a failure with the state it occurred in.
type StateError struct {
	State State
	Err   error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("deployment failed in state %s: %v", e.State, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }

// Runtime is the slice of the container runtime the deployer drives.
type Runtime interface {
	Container(ctx context.Context, name string) (types.ContainerInfo, error)
	ComposeUp(ctx context.Context, file, project string) error
	Start(ctx context.Context, names []string) error
	StopAndRemove(ctx context.Context, names []string) error
	ConnectNetwork(ctx context.Context, network, container string) error
}

// Gate health-gates a container; see pkg/health.
type Gate interface {
	Wait(ctx context.Context, container string) (health.Verdict, error)
}

// Flipper mutates the reverse-proxy route; see pkg/proxy.
type Flipper interface {
	Flip(ctx context.Context, target string) error
	CurrentUpstream(ctx context.Context) (string, error)
}

// Prober detects the live color; see pkg/probe.
type Prober interface {
	Detect(ctx context.Context, app string, services []string) (types.ProbeResult, error)
}

// Options are the per-invocation deploy flags.
type Options struct {
	// DryRun logs the plan and mutates nothing.
	DryRun bool

	// Force skips the image freshness comparison.
	Force bool

	// Commit is recorded in the audit log.
	Commit string
}

// Deployer runs the blue-green promotion state machine for one
// application on one host.
type Deployer struct {
	cfg     *config.App
	runner  remote.Runner
	rt      Runtime
	prober  Prober
	gate    Gate
	rbGate  Gate
	flipper Flipper
	auditor *audit.Writer
	logger  zerolog.Logger

	// settle is injectable so tests don't sleep.
	settle func(ctx context.Context, d time.Duration)
}

// New wires a deployer from its collaborators.
func New(cfg *config.App, runner remote.Runner, rt Runtime, prober Prober,
	gate, rollbackGate Gate, flipper Flipper, auditor *audit.Writer) *Deployer {
	return &Deployer{
		cfg:     cfg,
		runner:  runner,
		rt:      rt,
		prober:  prober,
		gate:    gate,
		rbGate:  rollbackGate,
		flipper: flipper,
		auditor: auditor,
		logger:  log.WithApp(cfg.Name),
		settle:  sleepCtx,
	}
}

// Deploy promotes imageRef through the full state machine:
//
//	Idle → NewColorStarting → HealthGating → Promoting → DrainingOld → Done
//
// with Aborting branching off the first two active states. The old
// color keeps serving traffic until the new one has passed the health
// gate and the proxy reload has succeeded.
func (d *Deployer) Deploy(ctx context.Context, imageRef string, opts Options) error {
	probeRes, err := d.prober.Detect(ctx, d.cfg.Name, d.cfg.Services)
	if err != nil {
		return &StateError{State: StateIdle, Err: err}
	}

	if !opts.Force && !image.IsFresher(image.TagOf(imageRef), image.TagOf(probeRes.Image)) {
		return &StateError{State: StateIdle, Err: fmt.Errorf("%w: %s vs running %s",
			ErrStaleImage, imageRef, probeRes.Image)}
	}

	target := probeRes.Color.Inverse()
	newSet := compose.SetFor(d.cfg.Name, d.cfg.AppDir, d.cfg.Services, target)
	oldSet := d.oldSet(probeRes)

	d.logger.Info().
		Str("current_color", string(probeRes.Color)).
		Str("target_color", string(target)).
		Str("image", imageRef).
		Bool("legacy", probeRes.Legacy).
		Msg("starting deployment")

	rec := d.auditor.NewRecord(d.cfg.Name, image.TagOf(imageRef), imageRef, opts.Commit)

	if err := d.run(ctx, imageRef, target, newSet, oldSet, opts); err != nil {
		var st *StateError
		if errors.As(err, &st) {
			rec.Result = "aborted:" + string(st.State)
		} else {
			rec.Result = "aborted"
		}
		d.appendAudit(rec)
		return err
	}

	if opts.DryRun {
		return nil
	}

	rec.Result = "promoted"
	d.appendAudit(rec)
	return nil
}

func (d *Deployer) run(ctx context.Context, imageRef string, target types.Color,
	newSet types.ContainerSet, oldSet *types.ContainerSet, opts Options) error {

	// NewColorStarting: the collision guard comes before anything else.
	// Target-color leftovers in any state mean a dead deployment.
	for _, name := range newSet.Names {
		info, err := d.rt.Container(ctx, name)
		if err != nil {
			return &StateError{State: StateNewColorStarting, Err: err}
		}
		if info.Exists() {
			return &StateError{State: StateNewColorStarting,
				Err: fmt.Errorf("%w: %s", ErrNameCollision, name)}
		}
	}

	if opts.DryRun {
		d.logger.Info().Str("target_color", string(target)).Str("image", imageRef).
			Msg("dry run: would materialize compose definition, start containers, health-gate, and flip proxy")
		return nil
	}

	if err := d.materialize(ctx, imageRef, target, newSet); err != nil {
		return &StateError{State: StateNewColorStarting, Err: err}
	}

	project := fmt.Sprintf("%s-%s", d.cfg.Name, target)
	if err := d.rt.ComposeUp(ctx, newSet.ComposeFile, project); err != nil {
		d.abort(ctx, newSet)
		return &StateError{State: StateNewColorStarting, Err: err}
	}

	// HealthGating
	verdict, err := d.gate.Wait(ctx, newSet.Primary())
	if verdict != health.VerdictHealthy {
		d.logger.Error().Str("verdict", string(verdict)).Err(err).
			Msg("new color failed health gate, aborting")
		d.abort(ctx, newSet)
		return &StateError{State: StateHealthGating,
			Err: fmt.Errorf("health gate verdict %s: %w", verdict, err)}
	}

	// Promoting: join the shared network, then flip. A failed flip is
	// fatal but must not drain anything: the old color is still the
	// only proven-good route.
	for _, name := range newSet.Names {
		if err := d.rt.ConnectNetwork(ctx, d.cfg.Network, name); err != nil {
			d.abort(ctx, newSet)
			return &StateError{State: StatePromoting, Err: err}
		}
	}

	upstream := fmt.Sprintf("%s:%d", newSet.Primary(), d.cfg.Port)
	if err := d.flipper.Flip(ctx, upstream); err != nil {
		return &StateError{State: StatePromoting, Err: err}
	}

	d.logger.Info().Dur("settle", d.cfg.Deploy.Settle).Msg("letting in-flight connections drain")
	d.settle(ctx, d.cfg.Deploy.Settle)

	// DrainingOld
	if oldSet != nil {
		if err := d.rt.StopAndRemove(ctx, oldSet.Names); err != nil {
			return &StateError{State: StateDrainingOld, Err: err}
		}
		if !oldSet.Legacy {
			if err := d.removeFile(ctx, oldSet.ComposeFile); err != nil {
				d.logger.Warn().Err(err).Msg("failed to remove old compose definition")
			}
		}
	}

	// Normalize the winning definition back to the canonical filename
	// so the next cycle starts from it.
	if err := d.rename(ctx, newSet.ComposeFile, compose.CanonicalFile(d.cfg.AppDir)); err != nil {
		return &StateError{State: StateDrainingOld, Err: err}
	}

	d.logger.Info().Str("color", string(target)).Msg("deployment promoted")
	return nil
}

// materialize renders and uploads the color-specific compose definition
// with the new image set on the primary service.
func (d *Deployer) materialize(ctx context.Context, imageRef string,
	target types.Color, newSet types.ContainerSet) error {

	canonical, err := d.readFile(ctx, compose.CanonicalFile(d.cfg.AppDir))
	if err != nil {
		return err
	}

	updated, err := compose.SetImage(canonical, d.cfg.Services[0], imageRef)
	if err != nil {
		return err
	}

	rendered, err := compose.Render(updated, d.cfg.Name, d.cfg.Services, target)
	if err != nil {
		return err
	}

	return d.runner.WriteFile(ctx, newSet.ComposeFile, rendered, 0o644)
}

// abort removes only the new color's containers and transient compose
// definition. The old, still-serving color is never touched here.
func (d *Deployer) abort(ctx context.Context, newSet types.ContainerSet) {
	logger := log.WithColor(string(newSet.Color))
	logger.Warn().Str("app", d.cfg.Name).Msg("aborting: removing new color")
	if err := d.rt.StopAndRemove(ctx, newSet.Names); err != nil {
		logger.Error().Err(err).Msg("failed to remove new color containers during abort")
	}
	if err := d.removeFile(ctx, newSet.ComposeFile); err != nil {
		logger.Warn().Err(err).Msg("failed to remove transient compose definition during abort")
	}
}

// oldSet computes the container set to drain after promotion: the
// previous color's, or the legacy default-named set on hosts from
// before color adoption, or nothing on a first deployment.
func (d *Deployer) oldSet(res types.ProbeResult) *types.ContainerSet {
	switch {
	case res.Color != types.ColorNone:
		set := compose.SetFor(d.cfg.Name, d.cfg.AppDir, d.cfg.Services, res.Color)
		return &set
	case res.Legacy:
		set := compose.LegacySet(d.cfg.Name, d.cfg.AppDir, d.cfg.Services)
		return &set
	default:
		return nil
	}
}

func (d *Deployer) appendAudit(rec types.DeploymentRecord) {
	if err := d.auditor.Append(rec); err != nil {
		d.logger.Warn().Err(err).Msg("failed to append audit record")
	}
}

func (d *Deployer) readFile(ctx context.Context, path string) ([]byte, error) {
	res, err := d.runner.Run(ctx, remote.Command{Line: "cat " + remote.Quote(path)})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return []byte(res.Stdout), nil
}

func (d *Deployer) removeFile(ctx context.Context, path string) error {
	_, err := d.runner.Run(ctx, remote.Command{Line: "rm -f " + remote.Quote(path)})
	return err
}

func (d *Deployer) rename(ctx context.Context, from, to string) error {
	_, err := d.runner.Run(ctx, remote.Command{
		Line: fmt.Sprintf("mv %s %s", remote.Quote(from), remote.Quote(to)),
	})
	if err != nil {
		return fmt.Errorf("failed to normalize compose definition: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
