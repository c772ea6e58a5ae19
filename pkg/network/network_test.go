package network

import (
	"context"
	"testing"

	"github.com/hullside/cutover/pkg/remote/remotetest"
)

func TestEnsureAddressAddsWhenMissing(t *testing.T) {
	runner := remotetest.NewRunner()
	runner.On("ip -4 addr show", "inet 10.0.0.10/24 brd 10.0.0.255 scope global eth0\n", 0)

	c := NewConfigurator(runner)
	if err := c.EnsureAddress(context.Background(), "eth0", "10.0.0.50"); err != nil {
		t.Fatalf("EnsureAddress failed: %v", err)
	}
	if !runner.Ran("ip addr add 10.0.0.50/32 dev 'eth0'") {
		t.Error("address was not added")
	}
	if !runner.Ran("systemctl enable secondary-ip.service") {
		t.Error("persistence unit was not enabled")
	}
	if len(runner.Files) != 1 {
		t.Fatalf("expected one file written, got %d", len(runner.Files))
	}
}

func TestEnsureAddressSkipsWhenPresent(t *testing.T) {
	runner := remotetest.NewRunner()
	runner.On("ip -4 addr show",
		"inet 10.0.0.10/24 scope global eth0\n    inet 10.0.0.50/32 scope global eth0\n", 0)

	c := NewConfigurator(runner)
	if err := c.EnsureAddress(context.Background(), "eth0", "10.0.0.50"); err != nil {
		t.Fatalf("EnsureAddress failed: %v", err)
	}
	if runner.Ran("ip addr add") {
		t.Error("added an address that was already present")
	}
}

func TestEnsureRedirectInstallsOnce(t *testing.T) {
	runner := remotetest.NewRunner()
	runner.On("iptables -t nat -C", "", 1) // absent

	c := NewConfigurator(runner)
	if err := c.EnsureRedirect(context.Background(), "10.0.0.50", 443, 8443); err != nil {
		t.Fatalf("EnsureRedirect failed: %v", err)
	}
	if !runner.Ran("iptables -t nat -A PREROUTING -d 10.0.0.50/32 -p tcp --dport 443 -j REDIRECT --to-ports 8443") {
		t.Error("redirect rule was not installed")
	}
}

func TestEnsureRedirectIsIdempotent(t *testing.T) {
	runner := remotetest.NewRunner()
	runner.On("iptables -t nat -C", "", 0) // already installed

	c := NewConfigurator(runner)
	if err := c.EnsureRedirect(context.Background(), "10.0.0.50", 443, 8443); err != nil {
		t.Fatalf("EnsureRedirect failed: %v", err)
	}
	if runner.Ran("iptables -t nat -A") {
		t.Error("duplicate redirect rule appended")
	}
}

func TestRemoveRedirectAbsentIsNoop(t *testing.T) {
	runner := remotetest.NewRunner()
	runner.On("iptables -t nat -C", "", 1)

	c := NewConfigurator(runner)
	if err := c.RemoveRedirect(context.Background(), "10.0.0.50", 443, 8443); err != nil {
		t.Fatalf("RemoveRedirect failed: %v", err)
	}
	if runner.Ran("iptables -t nat -D") {
		t.Error("deleted a rule that was not installed")
	}
}
