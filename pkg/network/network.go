package network

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hullside/cutover/pkg/log"
	"github.com/hullside/cutover/pkg/remote"
)

// persistUnit is the systemd unit that re-adds the secondary address on
// boot. Written once by EnsureAddress, removed by RemoveAddress.
const persistUnitPath = "/etc/systemd/system/secondary-ip.service"

// Configurator applies the host-side half of the dual-port workaround:
// plumb the secondary private IP onto the NIC and redirect its port 443
// to the SNI proxy's listen port. All commands run through the remote
// runner, so the same code drives SSH targets and local test fakes.
type Configurator struct {
	runner remote.Runner
	logger zerolog.Logger
}

// NewConfigurator creates a configurator over the given runner.
func NewConfigurator(runner remote.Runner) *Configurator {
	return &Configurator{
		runner: runner,
		logger: log.WithHost(runner.Target()).With().Str("component", "network").Logger(),
	}
}

// EnsureAddress adds privateIP to iface if the kernel does not already
// carry it, and installs a systemd oneshot unit so the address survives
// reboots. Both steps are check-then-apply.
func (c *Configurator) EnsureAddress(ctx context.Context, iface, privateIP string) error {
	res, err := c.runner.Run(ctx, remote.Command{
		Line: fmt.Sprintf("ip -4 addr show dev %s", remote.Quote(iface)),
	})
	if err != nil {
		return fmt.Errorf("failed to inspect interface %s: %w", iface, err)
	}

	if strings.Contains(res.Stdout, " "+privateIP+"/") {
		c.logger.Info().Str("ip", privateIP).Msg("secondary address already present")
	} else {
		addCmd := fmt.Sprintf("ip addr add %s/32 dev %s", privateIP, remote.Quote(iface))
		if _, err := c.runner.Run(ctx, remote.Command{Line: addCmd}); err != nil {
			return fmt.Errorf("failed to add address %s to %s: %w", privateIP, iface, err)
		}
		c.logger.Info().Str("ip", privateIP).Str("iface", iface).Msg("added secondary address")
	}

	unit := fmt.Sprintf(`[Unit]
Description=Attach secondary private IP
After=network-online.target
Wants=network-online.target

[Service]
Type=oneshot
ExecStart=/sbin/ip addr replace %s/32 dev %s
RemainAfterExit=yes

[Install]
WantedBy=multi-user.target
`, privateIP, iface)

	if err := c.runner.WriteFile(ctx, persistUnitPath, []byte(unit), 0o644); err != nil {
		return fmt.Errorf("failed to write persistence unit: %w", err)
	}
	if _, err := c.runner.Run(ctx, remote.Command{
		Line: "systemctl daemon-reload && systemctl enable secondary-ip.service",
	}); err != nil {
		return fmt.Errorf("failed to enable persistence unit: %w", err)
	}
	return nil
}

// RemoveAddress deletes the secondary address and its persistence unit.
// Already-absent pieces are tolerated.
func (c *Configurator) RemoveAddress(ctx context.Context, iface, privateIP string) error {
	delCmd := fmt.Sprintf("ip addr del %s/32 dev %s", privateIP, remote.Quote(iface))
	if _, err := c.runner.Run(ctx, remote.Command{Line: delCmd, OKExit: []int{0, 2}}); err != nil {
		return fmt.Errorf("failed to remove address %s: %w", privateIP, err)
	}
	_, err := c.runner.Run(ctx, remote.Command{
		Line:   fmt.Sprintf("systemctl disable secondary-ip.service; rm -f %s; systemctl daemon-reload", persistUnitPath),
		OKExit: []int{0, 1},
	})
	if err != nil {
		return fmt.Errorf("failed to remove persistence unit: %w", err)
	}
	c.logger.Info().Str("ip", privateIP).Msg("removed secondary address")
	return nil
}

// EnsureRedirect installs the NAT rule that sends traffic arriving on
// the secondary IP's port 443 to the SNI proxy's port. The rule is
// checked with -C before -A so repeated runs never stack duplicates.
func (c *Configurator) EnsureRedirect(ctx context.Context, privateIP string, fromPort, toPort int) error {
	rule := fmt.Sprintf("PREROUTING -d %s/32 -p tcp --dport %d -j REDIRECT --to-ports %d",
		privateIP, fromPort, toPort)

	// iptables -C exits 1 when the rule is absent.
	res, err := c.runner.Run(ctx, remote.Command{
		Line:   "iptables -t nat -C " + rule,
		OKExit: []int{0, 1},
	})
	if err != nil {
		return fmt.Errorf("failed to check redirect rule: %w", err)
	}
	if res.ExitCode == 0 {
		c.logger.Info().Str("ip", privateIP).Msg("redirect rule already installed")
		return nil
	}

	if _, err := c.runner.Run(ctx, remote.Command{Line: "iptables -t nat -A " + rule}); err != nil {
		return fmt.Errorf("failed to install redirect rule: %w", err)
	}
	c.logger.Info().
		Str("ip", privateIP).
		Int("from", fromPort).
		Int("to", toPort).
		Msg("installed redirect rule")
	return nil
}

// RemoveRedirect deletes the NAT redirect rule if present.
func (c *Configurator) RemoveRedirect(ctx context.Context, privateIP string, fromPort, toPort int) error {
	rule := fmt.Sprintf("PREROUTING -d %s/32 -p tcp --dport %d -j REDIRECT --to-ports %d",
		privateIP, fromPort, toPort)

	res, err := c.runner.Run(ctx, remote.Command{
		Line:   "iptables -t nat -C " + rule,
		OKExit: []int{0, 1},
	})
	if err != nil {
		return fmt.Errorf("failed to check redirect rule: %w", err)
	}
	if res.ExitCode != 0 {
		return nil
	}

	if _, err := c.runner.Run(ctx, remote.Command{Line: "iptables -t nat -D " + rule}); err != nil {
		return fmt.Errorf("failed to remove redirect rule: %w", err)
	}
	c.logger.Info().Str("ip", privateIP).Msg("removed redirect rule")
	return nil
}
