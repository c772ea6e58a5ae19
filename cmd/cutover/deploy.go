package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hullside/cutover/pkg/deploy"
	"github.com/hullside/cutover/pkg/image"
	"github.com/hullside/cutover/pkg/remote"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Build, ship and promote a new version",
	Long: `Deploy builds the application image, transfers it to the target host,
starts it as the inactive color, health-gates it and flips the proxy.
The previous color keeps serving until the new one has proven healthy.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		force, _ := cmd.Flags().GetBool("force")
		skipBuild, _ := cmd.Flags().GetBool("skip-build")
		skipPush, _ := cmd.Flags().GetBool("skip-push")
		commit, _ := cmd.Flags().GetString("commit")
		imageRef, _ := cmd.Flags().GetString("image")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, runner, err := connect()
		if err != nil {
			return err
		}
		defer runner.Close()

		if imageRef == "" {
			pipeline := image.New(remote.LocalRunner{}, runner, cfg.Image)
			tag := image.VersionTag(commit, time.Now())
			imageRef, err = prepareImage(ctx, pipeline, tag, skipBuild, skipPush, dryRun)
			if err != nil {
				return err
			}
		}

		if err := newDeployer(cfg, runner).Deploy(ctx, imageRef, deploy.Options{
			DryRun: dryRun,
			Force:  force,
			Commit: commit,
		}); err != nil {
			return err
		}

		if dryRun {
			fmt.Println("✓ Dry run complete, nothing was changed")
		} else {
			fmt.Printf("✓ %s promoted\n", imageRef)
		}
		return nil
	},
}

// prepareImage runs the build and transfer steps and returns the image
// reference to deploy. The steps are independently skippable:
// skipBuild deploys an image already in the local daemon, skipPush
// covers hosts where CI or a previous run already shipped it. A dry run
// may build (the build is local and side-effect free for the host) but
// never transfers.
func prepareImage(ctx context.Context, pipeline *image.Pipeline, tag string,
	skipBuild, skipPush, dryRun bool) (string, error) {

	ref := pipeline.Ref(tag)

	if skipBuild {
		fmt.Printf("Skipping build of %s\n", ref)
	} else {
		fmt.Printf("Building %s...\n", ref)
		if _, err := pipeline.Build(ctx, tag); err != nil {
			return "", err
		}
		fmt.Println("✓ Image built")
	}

	if dryRun || skipPush {
		return ref, nil
	}

	if err := pipeline.Transfer(ctx, ref); err != nil {
		return "", err
	}
	fmt.Println("✓ Image transferred to host")
	return ref, nil
}

func init() {
	deployCmd.Flags().Bool("dry-run", false, "Log the plan without touching the host")
	deployCmd.Flags().Bool("force", false, "Deploy even when the image is not fresher than the running one")
	deployCmd.Flags().Bool("skip-build", false, "Deploy an image already present in the local daemon")
	deployCmd.Flags().Bool("skip-push", false, "Build but skip the transfer (image already on the host)")
	deployCmd.Flags().String("commit", "", "Commit hash to tag the image with (default: timestamp tag)")
	deployCmd.Flags().String("image", "", "Deploy an explicit image reference, bypassing the build pipeline")
}
