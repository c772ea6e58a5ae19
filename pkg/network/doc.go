// Package network configures the deployment host for the dual-port
// workaround: it attaches the secondary private IP to the NIC, persists
// it across reboots, and installs the iptables REDIRECT that steers the
// secondary address's port 443 into the SNI proxy.
package network
