package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hullside/cutover/pkg/cloudip"
	"github.com/hullside/cutover/pkg/network"
)

var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "Manage the dual-port secondary IP setup",
}

var networkSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Provision the secondary IP, elastic IP and port redirect",
	Long: `Setup walks the node to a state where two public addresses answer on
port 443: it assigns a secondary private IP to the instance's primary
interface, associates an elastic IP with it, plumbs the address onto
the NIC and redirects its port 443 to the SNI proxy port.

Every step checks before it changes, so re-running after a partial
failure completes the remainder without allocating twice.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		proxyPort, _ := cmd.Flags().GetInt("proxy-port")

		cfg, runner, err := connect()
		if err != nil {
			return err
		}
		defer runner.Close()

		mgr, err := cloudip.NewFromRegion(cmd.Context(), cfg.Cloud.Region)
		if err != nil {
			return err
		}

		binding, err := mgr.Setup(cmd.Context(), cfg.Cloud.InstanceID)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Secondary IP %s (public %s)\n", binding.PrivateIP, binding.PublicIP)

		nc := network.NewConfigurator(runner)
		if err := nc.EnsureAddress(cmd.Context(), cfg.Cloud.Interface, binding.PrivateIP); err != nil {
			return err
		}
		fmt.Println("✓ Address plumbed on the interface")

		if err := nc.EnsureRedirect(cmd.Context(), binding.PrivateIP, 443, proxyPort); err != nil {
			return err
		}
		fmt.Printf("✓ Port 443 on %s redirected to %d\n", binding.PrivateIP, proxyPort)
		return nil
	},
}

var networkTeardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Remove the secondary IP setup",
	RunE: func(cmd *cobra.Command, args []string) error {
		proxyPort, _ := cmd.Flags().GetInt("proxy-port")
		release, _ := cmd.Flags().GetBool("release-address")

		cfg, runner, err := connect()
		if err != nil {
			return err
		}
		defer runner.Close()

		mgr, err := cloudip.NewFromRegion(cmd.Context(), cfg.Cloud.Region)
		if err != nil {
			return err
		}

		binding, ok, err := mgr.Current(cmd.Context(), cfg.Cloud.InstanceID)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("No secondary IP configured, nothing to tear down")
			return nil
		}

		// Host-side pieces first so traffic stops before the address
		// disappears from the cloud side.
		nc := network.NewConfigurator(runner)
		if err := nc.RemoveRedirect(cmd.Context(), binding.PrivateIP, 443, proxyPort); err != nil {
			return err
		}
		if err := nc.RemoveAddress(cmd.Context(), cfg.Cloud.Interface, binding.PrivateIP); err != nil {
			return err
		}

		if err := mgr.Teardown(cmd.Context(), cfg.Cloud.InstanceID, release); err != nil {
			return err
		}
		fmt.Println("✓ Dual-port setup removed")
		return nil
	},
}

func init() {
	networkCmd.AddCommand(networkSetupCmd)
	networkCmd.AddCommand(networkTeardownCmd)

	networkCmd.PersistentFlags().Int("proxy-port", 8443, "Port the SNI proxy listens on")
	networkTeardownCmd.Flags().Bool("release-address", false, "Also release the elastic IP back to AWS")
}
