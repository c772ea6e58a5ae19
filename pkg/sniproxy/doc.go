// Package sniproxy implements the port-443 demultiplexer for the
// dual-port workaround. It accepts redirected TLS connections, peeks at
// the ClientHello's SNI without terminating TLS, and splices the
// connection to either the API backend or the regular ingress, so both
// can share one public port per address.
package sniproxy
