// Package cloudip manages the AWS side of the dual-port workaround: a
// secondary private IP on the instance's primary network interface with
// an elastic IP associated to it, so one node can answer TLS on two
// public addresses.
//
// Setup is safe to re-run. It inspects the interface and the account's
// addresses before touching anything, so a second invocation on an
// already-configured node performs zero allocations.
package cloudip
