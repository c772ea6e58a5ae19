package health

import (
	"context"
	"testing"
	"time"

	"github.com/hullside/cutover/pkg/remote"
	"github.com/hullside/cutover/pkg/types"
)

// fakeRuntime scripts container observations per attempt.
type fakeRuntime struct {
	snapshots []types.ContainerInfo // consumed one per Container call
	execBody  string
	execErr   error
	inspects  int
	execs     int
}

func (f *fakeRuntime) Container(_ context.Context, name string) (types.ContainerInfo, error) {
	i := f.inspects
	f.inspects++
	if i >= len(f.snapshots) {
		i = len(f.snapshots) - 1 // hold the last snapshot
	}
	info := f.snapshots[i]
	info.Name = name
	return info, nil
}

func (f *fakeRuntime) Exec(_ context.Context, _, _ string) (remote.Result, error) {
	f.execs++
	if f.execErr != nil {
		return remote.Result{}, f.execErr
	}
	return remote.Result{Stdout: f.execBody}, nil
}

func testConfig(attempts int) Config {
	return Config{
		Attempts:           attempts,
		Delay:              time.Millisecond,
		CrashLoopThreshold: 3,
		Port:               3000,
		Path:               "/health",
		Marker:             "ok",
	}
}

func runningWithRestarts(n int) types.ContainerInfo {
	return types.ContainerInfo{State: types.ContainerStateRunning, RestartCount: n}
}

func TestWait_HealthyShortCircuits(t *testing.T) {
	rt := &fakeRuntime{
		snapshots: []types.ContainerInfo{runningWithRestarts(0)},
		execBody:  `{"status":"ok"}`,
	}

	verdict, err := NewGate(rt, testConfig(30)).Wait(context.Background(), "shop-app-green")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict != VerdictHealthy {
		t.Errorf("verdict = %s, want healthy", verdict)
	}
	if rt.inspects != 1 {
		t.Errorf("expected first healthy result to stop the loop, got %d attempts", rt.inspects)
	}
}

func TestWait_UnhealthyTimeout(t *testing.T) {
	rt := &fakeRuntime{
		snapshots: []types.ContainerInfo{runningWithRestarts(0)},
		execBody:  "Service Unavailable",
	}

	verdict, err := NewGate(rt, testConfig(5)).Wait(context.Background(), "shop-app-green")
	if err == nil {
		t.Fatal("expected error for unhealthy container")
	}
	if verdict != VerdictUnhealthyTimeout {
		t.Errorf("verdict = %s, want unhealthy-timeout", verdict)
	}
	if rt.inspects != 5 {
		t.Errorf("expected full budget of 5 attempts, got %d", rt.inspects)
	}
}

func TestWait_CrashLoopShortCircuits(t *testing.T) {
	// Restart count climbs by 2 per observation; the threshold of 3 is
	// crossed on the third attempt, far short of the 30-attempt budget.
	rt := &fakeRuntime{
		snapshots: []types.ContainerInfo{
			{State: types.ContainerStateRestarting, RestartCount: 1},
			{State: types.ContainerStateRestarting, RestartCount: 3},
			{State: types.ContainerStateRestarting, RestartCount: 6},
		},
	}

	verdict, err := NewGate(rt, testConfig(30)).Wait(context.Background(), "shop-app-green")
	if err == nil {
		t.Fatal("expected error for crash-looping container")
	}
	if verdict != VerdictCrashLooping {
		t.Errorf("verdict = %s, want crash-looping", verdict)
	}
	if rt.inspects >= 30 {
		t.Errorf("crash loop must be detected before the budget is spent, used %d attempts", rt.inspects)
	}
	if rt.execs != 0 {
		t.Errorf("restarting container should never be probed, got %d probes", rt.execs)
	}
}

func TestWait_PreexistingRestartsAreBaselined(t *testing.T) {
	// A container that restarted 10 times before this deployment is not
	// crash-looping if the count holds steady now.
	rt := &fakeRuntime{
		snapshots: []types.ContainerInfo{runningWithRestarts(10)},
		execBody:  "ok",
	}

	verdict, err := NewGate(rt, testConfig(30)).Wait(context.Background(), "shop-app-green")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict != VerdictHealthy {
		t.Errorf("verdict = %s, want healthy", verdict)
	}
}

func TestWait_MissingContainer(t *testing.T) {
	rt := &fakeRuntime{
		snapshots: []types.ContainerInfo{{State: types.ContainerStateMissing}},
	}

	verdict, err := NewGate(rt, testConfig(30)).Wait(context.Background(), "shop-app-green")
	if err == nil {
		t.Fatal("expected error for missing container")
	}
	if verdict != VerdictMissing {
		t.Errorf("verdict = %s, want missing", verdict)
	}
	if rt.inspects != 1 {
		t.Errorf("missing container should stop the loop immediately, got %d attempts", rt.inspects)
	}
}

func TestWait_RecoversAfterSlowStart(t *testing.T) {
	rt := &fakeRuntime{
		snapshots: []types.ContainerInfo{
			{State: types.ContainerStateExited},
			{State: types.ContainerStateExited},
			runningWithRestarts(1),
		},
		execBody: "ok",
	}

	verdict, err := NewGate(rt, testConfig(10)).Wait(context.Background(), "shop-app-green")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict != VerdictHealthy {
		t.Errorf("verdict = %s, want healthy", verdict)
	}
	if rt.inspects != 3 {
		t.Errorf("expected 3 attempts, got %d", rt.inspects)
	}
}
