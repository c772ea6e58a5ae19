package deploy

import (
	"context"
	"fmt"

	"github.com/hullside/cutover/pkg/compose"
	"github.com/hullside/cutover/pkg/health"
	"github.com/hullside/cutover/pkg/types"
)

// Rollback restores the color that was live before the most recent
// deployment: restart its containers if a stopped copy still exists,
// otherwise reconstruct its compose definition from the canonical file,
// run a shortened health wait, flip the proxy back, and remove the
// abandoned current color.
//
// With no previous color on the host there is nothing safe to restore;
// that case fails loudly and is an operator-escalation, not a retry.
func (d *Deployer) Rollback(ctx context.Context) error {
	probeRes, err := d.prober.Detect(ctx, d.cfg.Name, d.cfg.Services)
	if err != nil {
		return err
	}
	if probeRes.Color == types.ColorNone {
		return ErrNothingToRollBack
	}

	current := probeRes.Color
	previous := current.Inverse()
	prevSet := compose.SetFor(d.cfg.Name, d.cfg.AppDir, d.cfg.Services, previous)
	currSet := compose.SetFor(d.cfg.Name, d.cfg.AppDir, d.cfg.Services, current)

	d.logger.Info().
		Str("current_color", string(current)).
		Str("previous_color", string(previous)).
		Msg("rolling back")

	rec := d.auditor.NewRecord(d.cfg.Name, "", "", "")

	primary, err := d.rt.Container(ctx, prevSet.Primary())
	if err != nil {
		return err
	}

	switch {
	case primary.State == types.ContainerStateRunning:
		// already up, nothing to start
	case primary.Exists():
		d.logger.Info().Msg("restarting stopped previous color")
		if err := d.rt.Start(ctx, d.existingNames(ctx, prevSet.Names)); err != nil {
			return fmt.Errorf("failed to restart previous color: %w", err)
		}
	default:
		d.logger.Info().Msg("no stopped copy, reconstructing previous color from canonical definition")
		if err := d.reconstruct(ctx, previous, prevSet); err != nil {
			return err
		}
	}

	verdict, err := d.rbGate.Wait(ctx, prevSet.Primary())
	if verdict != health.VerdictHealthy {
		return fmt.Errorf("previous color failed shortened health check (verdict %s): %w", verdict, err)
	}

	for _, name := range prevSet.Names {
		if err := d.rt.ConnectNetwork(ctx, d.cfg.Network, name); err != nil {
			return err
		}
	}

	upstream := fmt.Sprintf("%s:%d", prevSet.Primary(), d.cfg.Port)
	if err := d.flipper.Flip(ctx, upstream); err != nil {
		return err
	}

	d.settle(ctx, d.cfg.Deploy.Settle)

	if err := d.rt.StopAndRemove(ctx, currSet.Names); err != nil {
		return fmt.Errorf("failed to remove abandoned color: %w", err)
	}
	if err := d.removeFile(ctx, currSet.ComposeFile); err != nil {
		d.logger.Warn().Err(err).Msg("failed to remove abandoned compose definition")
	}

	rec.Result = "rolled-back:" + string(previous)
	d.appendAudit(rec)

	d.logger.Info().Str("color", string(previous)).Msg("rollback complete")
	return nil
}

// reconstruct materializes the previous color's compose definition from
// the canonical file and starts it. The canonical file carries whatever
// image the last successful deployment normalized, which is the most
// recent definition the host has for this color.
func (d *Deployer) reconstruct(ctx context.Context, color types.Color, set types.ContainerSet) error {
	canonical, err := d.readFile(ctx, compose.CanonicalFile(d.cfg.AppDir))
	if err != nil {
		return err
	}

	rendered, err := compose.Render(canonical, d.cfg.Name, d.cfg.Services, color)
	if err != nil {
		return err
	}

	if err := d.runner.WriteFile(ctx, set.ComposeFile, rendered, 0o644); err != nil {
		return err
	}

	project := fmt.Sprintf("%s-%s", d.cfg.Name, color)
	return d.rt.ComposeUp(ctx, set.ComposeFile, project)
}

// existingNames filters a container-name list down to the ones present
// on the host, so docker start is never asked for a name it cannot know.
func (d *Deployer) existingNames(ctx context.Context, names []string) []string {
	var out []string
	for _, name := range names {
		info, err := d.rt.Container(ctx, name)
		if err != nil || !info.Exists() {
			continue
		}
		out = append(out, name)
	}
	return out
}
