package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hullside/cutover/pkg/compose"
	"github.com/hullside/cutover/pkg/config"
	"github.com/hullside/cutover/pkg/image"
	"github.com/hullside/cutover/pkg/probe"
	"github.com/hullside/cutover/pkg/runtime"
	"github.com/hullside/cutover/pkg/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which color is live and what it runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, runner, err := connect()
		if err != nil {
			return err
		}
		defer runner.Close()

		docker := runtime.NewDockerClient(runner)
		res, err := probe.New(docker).Detect(cmd.Context(), cfg.Name, cfg.Services)
		if err != nil {
			return err
		}

		switch {
		case res.Legacy:
			fmt.Printf("App:    %s\n", cfg.Name)
			fmt.Println("Active: legacy (un-colored containers)")
		case res.Color == types.ColorNone:
			fmt.Printf("App:    %s\n", cfg.Name)
			fmt.Println("Active: none (nothing is running)")
			return nil
		default:
			fmt.Printf("App:    %s\n", cfg.Name)
			fmt.Printf("Active: %s\n", res.Color)
		}

		fmt.Printf("Image:  %s (tag %s)\n", res.Image, image.TagOf(res.Image))
		printContainers(cmd.Context(), docker, cfg, res)
		return nil
	},
}

func printContainers(ctx context.Context, docker *runtime.DockerClient, cfg *config.App, res types.ProbeResult) {
	var set types.ContainerSet
	if res.Legacy {
		set = compose.LegacySet(cfg.Name, cfg.AppDir, cfg.Services)
	} else {
		set = compose.SetFor(cfg.Name, cfg.AppDir, cfg.Services, res.Color)
	}

	fmt.Println("Containers:")
	for _, name := range set.Names {
		info, err := docker.Container(ctx, name)
		if err != nil {
			fmt.Printf("  %-30s (inspect failed: %v)\n", name, err)
			continue
		}
		if !info.Exists() {
			fmt.Printf("  %-30s missing\n", name)
			continue
		}
		fmt.Printf("  %-30s %s, %d restarts\n", name, info.State, info.RestartCount)
	}
}
