/*
Package types defines the core data structures shared by cutover's
orchestration packages.

The domain model is deliberately small: deployments are transient
processes, not persisted records, so the types here describe runtime
observations rather than stored state.

  - Color: which of the two parallel container sets (blue/green) a
    container belongs to. Derived by the state prober from container
    names, never written anywhere.
  - ContainerInfo / ContainerState: a snapshot of one container as the
    remote runtime reports it.
  - ContainerSet: the containers making up one color of one application.
  - ProbeResult: the prober's answer: live color, running image, and
    whether the host still runs legacy default-named containers.
  - ProxyRoute: the reverse-proxy upstream binding for an application.
  - SecondaryBinding: the secondary private/elastic IP pair installed by
    the dual-port network workaround.
  - DeploymentRecord: one audit-log line per deployment attempt.

Exactly one ContainerSet per application is live (bound into the proxy
route) at any time. During a deployment two sets exist side by side
until the old one is drained; the deployer enforces that ordering, the
types here just name the pieces.
*/
package types
