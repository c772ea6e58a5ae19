package deploy

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hullside/cutover/pkg/audit"
	"github.com/hullside/cutover/pkg/config"
	"github.com/hullside/cutover/pkg/health"
	"github.com/hullside/cutover/pkg/probe"
	"github.com/hullside/cutover/pkg/remote/remotetest"
	"github.com/hullside/cutover/pkg/types"
)

const canonicalCompose = `
services:
  app:
    image: registry.example.com/shop:20260301-101500
    ports:
      - "3000:3000"
  cron:
    image: registry.example.com/shop:20260301-101500
`

// fakeRuntime is an in-memory container runtime.
type fakeRuntime struct {
	containers map[string]types.ContainerInfo
	removed    [][]string
	started    [][]string
	connected  []string
	composeUps []string
	composeErr error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{containers: make(map[string]types.ContainerInfo)}
}

func (f *fakeRuntime) addRunning(name, img string) {
	f.containers[name] = types.ContainerInfo{Name: name, State: types.ContainerStateRunning, Image: img}
}

func (f *fakeRuntime) addStopped(name, img string) {
	f.containers[name] = types.ContainerInfo{Name: name, State: types.ContainerStateExited, Image: img}
}

func (f *fakeRuntime) Container(_ context.Context, name string) (types.ContainerInfo, error) {
	if info, ok := f.containers[name]; ok {
		return info, nil
	}
	return types.ContainerInfo{Name: name, State: types.ContainerStateMissing}, nil
}

func (f *fakeRuntime) ComposeUp(_ context.Context, file, project string) error {
	f.composeUps = append(f.composeUps, file)
	if f.composeErr != nil {
		return f.composeErr
	}
	// Starting docker-compose.<color>.yml brings that color's set up
	for _, color := range []types.Color{types.ColorBlue, types.ColorGreen} {
		if strings.Contains(file, string(color)) {
			for _, svc := range []string{"app", "cron"} {
				f.addRunning(fmt.Sprintf("shop-%s-%s", svc, color), "new-image")
			}
		}
	}
	return nil
}

func (f *fakeRuntime) Start(_ context.Context, names []string) error {
	f.started = append(f.started, names)
	for _, n := range names {
		info := f.containers[n]
		info.State = types.ContainerStateRunning
		f.containers[n] = info
	}
	return nil
}

func (f *fakeRuntime) StopAndRemove(_ context.Context, names []string) error {
	f.removed = append(f.removed, names)
	for _, n := range names {
		delete(f.containers, n)
	}
	return nil
}

func (f *fakeRuntime) ConnectNetwork(_ context.Context, _, container string) error {
	f.connected = append(f.connected, container)
	return nil
}

// fakeGate returns a scripted verdict and records what it gated.
type fakeGate struct {
	verdict health.Verdict
	gated   []string
}

func (g *fakeGate) Wait(_ context.Context, container string) (health.Verdict, error) {
	g.gated = append(g.gated, container)
	if g.verdict == health.VerdictHealthy {
		return g.verdict, nil
	}
	return g.verdict, errors.New("gate failed")
}

// fakeFlipper tracks the proxy route.
type fakeFlipper struct {
	upstream string
	history  []string
	flipErr  error
}

func (f *fakeFlipper) Flip(_ context.Context, target string) error {
	if f.flipErr != nil {
		return f.flipErr
	}
	f.upstream = target
	f.history = append(f.history, target)
	return nil
}

func (f *fakeFlipper) CurrentUpstream(context.Context) (string, error) {
	return f.upstream, nil
}

type world struct {
	rt      *fakeRuntime
	runner  *remotetest.Runner
	gate    *fakeGate
	rbGate  *fakeGate
	flipper *fakeFlipper
	d       *Deployer
}

func newWorld(t *testing.T) *world {
	t.Helper()

	cfg := &config.App{
		Name:     "shop",
		Domain:   "shop.example.com",
		Port:     3000,
		Services: []string{"app", "cron"},
		AppDir:   "/opt/apps/shop",
		Network:  "edge",
		Deploy: config.Deploy{
			HealthAttempts:         30,
			HealthDelay:            time.Millisecond,
			RollbackHealthAttempts: 10,
			CrashLoopThreshold:     3,
			Settle:                 0,
		},
		AuditLog: filepath.Join(t.TempDir(), "audit.log"),
	}

	w := &world{
		rt:      newFakeRuntime(),
		runner:  remotetest.NewRunner(),
		gate:    &fakeGate{verdict: health.VerdictHealthy},
		rbGate:  &fakeGate{verdict: health.VerdictHealthy},
		flipper: &fakeFlipper{},
	}
	w.runner.On("cat ", canonicalCompose, 0)

	w.d = New(cfg, w.runner, w.rt, probe.New(w.rt), w.gate, w.rbGate, w.flipper,
		audit.New(cfg.AuditLog))
	w.d.settle = func(context.Context, time.Duration) {}
	return w
}

// A first deployment on an empty host adopts blue.
func TestDeploy_FirstDeploymentAdoptsBlue(t *testing.T) {
	w := newWorld(t)

	err := w.d.Deploy(context.Background(), "registry.example.com/shop:20260302-090000", Options{})
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}

	rendered := string(w.runner.Files["/opt/apps/shop/docker-compose.blue.yml"])
	if !strings.Contains(rendered, "shop-app-blue") {
		t.Errorf("blue compose definition not materialized:\n%s", rendered)
	}
	if !strings.Contains(rendered, "registry.example.com/shop:20260302-090000") {
		t.Errorf("new image not set in compose definition:\n%s", rendered)
	}

	if w.flipper.upstream != "shop-app-blue:3000" {
		t.Errorf("proxy upstream = %q, want shop-app-blue:3000", w.flipper.upstream)
	}
	if len(w.rt.removed) != 0 {
		t.Errorf("nothing should be drained on a first deployment, removed %v", w.rt.removed)
	}
	if !w.runner.Ran("mv '/opt/apps/shop/docker-compose.blue.yml' '/opt/apps/shop/docker-compose.yml'") {
		t.Error("winning compose definition not normalized to canonical filename")
	}

	// Only blue remains running
	if _, ok := w.rt.containers["shop-app-blue"]; !ok {
		t.Error("blue containers not running after promotion")
	}
}

// Healthy promotion over a live blue drains blue last.
func TestDeploy_PromotesInverseColorAndDrainsOld(t *testing.T) {
	w := newWorld(t)
	w.rt.addRunning("shop-app-blue", "registry.example.com/shop:20260301-101500")
	w.rt.addRunning("shop-cron-blue", "registry.example.com/shop:20260301-101500")
	w.flipper.upstream = "shop-app-blue:3000"

	err := w.d.Deploy(context.Background(), "registry.example.com/shop:20260302-090000", Options{})
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}

	if w.flipper.upstream != "shop-app-green:3000" {
		t.Errorf("upstream = %q, want shop-app-green:3000", w.flipper.upstream)
	}
	if len(w.rt.removed) != 1 {
		t.Fatalf("expected exactly one drain, got %v", w.rt.removed)
	}
	for _, name := range w.rt.removed[0] {
		if !strings.HasSuffix(name, "-blue") {
			t.Errorf("drained %q, want only blue containers", name)
		}
	}
	if len(w.gate.gated) != 1 || w.gate.gated[0] != "shop-app-green" {
		t.Errorf("gated %v, want the new primary only", w.gate.gated)
	}
	// Both green containers joined the shared network
	if len(w.rt.connected) != 2 {
		t.Errorf("connected %v, want both green containers", w.rt.connected)
	}
}

// P1: a failed health gate never moves the proxy.
func TestDeploy_NoPrematureCutover(t *testing.T) {
	w := newWorld(t)
	w.rt.addRunning("shop-app-blue", "registry.example.com/shop:20260301-101500")
	w.flipper.upstream = "shop-app-blue:3000"
	w.gate.verdict = health.VerdictUnhealthyTimeout

	err := w.d.Deploy(context.Background(), "registry.example.com/shop:20260302-090000", Options{})
	if err == nil {
		t.Fatal("expected deployment failure")
	}

	var st *StateError
	if !errors.As(err, &st) || st.State != StateHealthGating {
		t.Errorf("error state = %v, want health-gating", err)
	}
	if w.flipper.upstream != "shop-app-blue:3000" {
		t.Errorf("proxy moved to %q during a failed deployment", w.flipper.upstream)
	}
	if len(w.flipper.history) != 0 {
		t.Errorf("flip attempted during failed deployment: %v", w.flipper.history)
	}
}

// A failed green deployment is fully removed while blue keeps serving.
func TestDeploy_AbortRemovesOnlyNewColor(t *testing.T) {
	w := newWorld(t)
	w.rt.addRunning("shop-app-blue", "registry.example.com/shop:20260301-101500")
	w.rt.addRunning("shop-cron-blue", "registry.example.com/shop:20260301-101500")
	w.gate.verdict = health.VerdictCrashLooping

	err := w.d.Deploy(context.Background(), "registry.example.com/shop:20260302-090000", Options{})
	if err == nil {
		t.Fatal("expected deployment failure")
	}

	if _, ok := w.rt.containers["shop-app-green"]; ok {
		t.Error("green containers not removed on abort")
	}
	if _, ok := w.rt.containers["shop-app-blue"]; !ok {
		t.Error("blue container was touched during abort")
	}
	if !w.runner.Ran("rm -f '/opt/apps/shop/docker-compose.green.yml'") {
		t.Error("transient green compose definition not removed")
	}
}

// P2: immediate re-run trips the collision guard.
func TestDeploy_SecondRunHitsCollisionGuard(t *testing.T) {
	w := newWorld(t)
	// Leftover green containers from a deployment that died mid-flight
	w.rt.addStopped("shop-app-green", "new-image")
	w.rt.addRunning("shop-app-blue", "registry.example.com/shop:20260301-101500")

	err := w.d.Deploy(context.Background(), "registry.example.com/shop:20260302-090000", Options{})
	if !errors.Is(err, ErrNameCollision) {
		t.Fatalf("expected ErrNameCollision, got %v", err)
	}
	if len(w.rt.composeUps) != 0 {
		t.Error("collision guard must fire before any container is started")
	}
}

func TestDeploy_LegacyContainersDrainedByDefaultNames(t *testing.T) {
	w := newWorld(t)
	w.rt.addRunning("shop-app", "registry.example.com/shop:old")
	w.rt.addRunning("shop-cron", "registry.example.com/shop:old")

	err := w.d.Deploy(context.Background(), "registry.example.com/shop:20260302-090000", Options{})
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}

	if len(w.rt.removed) != 1 {
		t.Fatalf("expected one drain, got %v", w.rt.removed)
	}
	if w.rt.removed[0][0] != "shop-app" {
		t.Errorf("drained %v, want legacy default names", w.rt.removed[0])
	}
	if w.flipper.upstream != "shop-app-blue:3000" {
		t.Errorf("upstream = %q, want blue (first color)", w.flipper.upstream)
	}
}

func TestDeploy_ProxyFlipFailureDrainsNothing(t *testing.T) {
	w := newWorld(t)
	w.rt.addRunning("shop-app-blue", "registry.example.com/shop:20260301-101500")
	w.flipper.flipErr = errors.New("nginx reload failed")

	err := w.d.Deploy(context.Background(), "registry.example.com/shop:20260302-090000", Options{})
	var st *StateError
	if !errors.As(err, &st) || st.State != StatePromoting {
		t.Fatalf("error = %v, want promoting-state failure", err)
	}

	// Old color untouched; new color deliberately left for inspection,
	// since the proxy is in an unknown state.
	if _, ok := w.rt.containers["shop-app-blue"]; !ok {
		t.Error("old color removed after failed proxy reload")
	}
	if len(w.rt.removed) != 0 {
		t.Errorf("drain ran after failed proxy reload: %v", w.rt.removed)
	}
}

func TestDeploy_StaleImageRejectedUnlessForced(t *testing.T) {
	w := newWorld(t)
	w.rt.addRunning("shop-app-blue", "registry.example.com/shop:20260302-090000")

	older := "registry.example.com/shop:20260301-101500"
	err := w.d.Deploy(context.Background(), older, Options{})
	if !errors.Is(err, ErrStaleImage) {
		t.Fatalf("expected ErrStaleImage, got %v", err)
	}

	if err := w.d.Deploy(context.Background(), older, Options{Force: true}); err != nil {
		t.Fatalf("forced deploy failed: %v", err)
	}
}

func TestDeploy_DryRunMutatesNothing(t *testing.T) {
	w := newWorld(t)
	w.rt.addRunning("shop-app-blue", "registry.example.com/shop:20260301-101500")

	err := w.d.Deploy(context.Background(), "registry.example.com/shop:20260302-090000", Options{DryRun: true})
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}

	if len(w.rt.composeUps) != 0 || len(w.rt.removed) != 0 || len(w.flipper.history) != 0 {
		t.Error("dry run performed mutations")
	}
	if len(w.runner.Files) != 0 {
		t.Errorf("dry run wrote files: %v", w.runner.Files)
	}
}

// Rollback restores the previous color and leaves
// exactly one container set.
func TestRollback_ReconstructsPreviousColor(t *testing.T) {
	w := newWorld(t)
	w.rt.addRunning("shop-app-green", "registry.example.com/shop:20260302-090000")
	w.rt.addRunning("shop-cron-green", "registry.example.com/shop:20260302-090000")
	w.flipper.upstream = "shop-app-green:3000"

	if err := w.d.Rollback(context.Background()); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	if w.flipper.upstream != "shop-app-blue:3000" {
		t.Errorf("upstream = %q, want shop-app-blue:3000", w.flipper.upstream)
	}
	if _, ok := w.rt.containers["shop-app-green"]; ok {
		t.Error("abandoned green set still present after rollback")
	}
	if _, ok := w.rt.containers["shop-app-blue"]; !ok {
		t.Error("blue set not running after rollback")
	}
	if len(w.rbGate.gated) != 1 {
		t.Errorf("shortened health gate not used: %v", w.rbGate.gated)
	}
	// Reconstructed from canonical with substituted names
	rendered := string(w.runner.Files["/opt/apps/shop/docker-compose.blue.yml"])
	if !strings.Contains(rendered, "shop-app-blue") {
		t.Errorf("blue compose definition not reconstructed:\n%s", rendered)
	}
}

func TestRollback_RestartsStoppedCopy(t *testing.T) {
	w := newWorld(t)
	w.rt.addRunning("shop-app-green", "v2")
	w.rt.addStopped("shop-app-blue", "v1")
	w.rt.addStopped("shop-cron-blue", "v1")
	w.flipper.upstream = "shop-app-green:3000"

	if err := w.d.Rollback(context.Background()); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	if len(w.rt.started) != 1 {
		t.Fatalf("expected stopped blue set to be restarted, starts = %v", w.rt.started)
	}
	if len(w.rt.composeUps) != 0 {
		t.Error("compose up should not run when a stopped copy exists")
	}
	if w.flipper.upstream != "shop-app-blue:3000" {
		t.Errorf("upstream = %q after rollback", w.flipper.upstream)
	}
}

func TestRollback_NothingToRollBackTo(t *testing.T) {
	w := newWorld(t)

	err := w.d.Rollback(context.Background())
	if !errors.Is(err, ErrNothingToRollBack) {
		t.Fatalf("expected ErrNothingToRollBack, got %v", err)
	}
}

func TestRollback_FailedHealthLeavesCurrentServing(t *testing.T) {
	w := newWorld(t)
	w.rt.addRunning("shop-app-green", "v2")
	w.flipper.upstream = "shop-app-green:3000"
	w.rbGate.verdict = health.VerdictUnhealthyTimeout

	if err := w.d.Rollback(context.Background()); err == nil {
		t.Fatal("expected rollback failure")
	}

	if w.flipper.upstream != "shop-app-green:3000" {
		t.Error("proxy flipped despite failed rollback health check")
	}
	if _, ok := w.rt.containers["shop-app-green"]; !ok {
		t.Error("current color removed despite failed rollback")
	}
}
