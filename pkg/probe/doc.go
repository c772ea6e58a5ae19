/*
Package probe determines the current deployment color of an application
by inspecting container names on the target host.

The prober has no side effects. It answers three questions the deployer
needs before doing anything: which color is live, which image it runs,
and whether the host still uses legacy default-named containers from
before blue-green adoption.
*/
package probe
