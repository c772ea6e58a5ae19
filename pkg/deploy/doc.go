/*
Package deploy implements the blue-green promotion state machine and
its inverse, the rollback controller.

A deployment moves through

	Idle → NewColorStarting → HealthGating → Promoting → DrainingOld → Done

with an Aborting branch off NewColorStarting and HealthGating. The
ordering guarantees live here:

  - the proxy route never flips before the health gate reports healthy
  - the old container set is never removed before the flip has had a
    settle period for in-flight connections to drain
  - an abort removes only the new color; the old, serving color is
    untouched
  - a failed proxy reload stops everything mid-Promoting, because at
    that moment the old upstream is the only proven-good route

The collision guard at the top of NewColorStarting makes re-running a
deployment against leftover target-color containers an explicit error
instead of a silent double-deploy; an interrupted run leaves the old
color serving and is cleaned up by an operator, never automatically.

Rollback is the symmetric inverse: restart (or reconstruct from the
canonical compose file) the previous color, shortened health wait, flip
back, remove the abandoned color. With no previous color it fails loudly.

Every collaborator of the state machine is an interface (Runtime, Gate,
Flipper, Prober), so the machine itself is tested against fakes and the
shell-facing implementations live in their own packages.
*/
package deploy
