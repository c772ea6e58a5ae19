package probe

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hullside/cutover/pkg/compose"
	"github.com/hullside/cutover/pkg/log"
	"github.com/hullside/cutover/pkg/types"
)

// Runtime is the slice of the container runtime the prober needs.
type Runtime interface {
	Container(ctx context.Context, name string) (types.ContainerInfo, error)
}

// Prober determines which deployment color is currently live on a host.
// It only reads; every mutation belongs to the deployer.
type Prober struct {
	rt     Runtime
	logger zerolog.Logger
}

// New creates a prober on top of a container runtime.
func New(rt Runtime) *Prober {
	return &Prober{rt: rt, logger: log.WithComponent("prober")}
}

// Detect inspects the app's primary container under both color names
// and the legacy default name, and reports the live color and running
// image. No color-suffixed or legacy container running means ColorNone:
// the deployer then adopts blue as the first color.
//
// Both colors running at once means an earlier deployment died between
// starting the new set and draining the old one; that is an operator
// problem, not something to guess around.
func (p *Prober) Detect(ctx context.Context, app string, services []string) (types.ProbeResult, error) {
	if len(services) == 0 {
		return types.ProbeResult{}, fmt.Errorf("no services configured for %s", app)
	}
	primary := services[0]

	blue, err := p.rt.Container(ctx, compose.ContainerName(app, primary, types.ColorBlue))
	if err != nil {
		return types.ProbeResult{}, err
	}
	green, err := p.rt.Container(ctx, compose.ContainerName(app, primary, types.ColorGreen))
	if err != nil {
		return types.ProbeResult{}, err
	}

	blueLive := blue.State == types.ContainerStateRunning
	greenLive := green.State == types.ContainerStateRunning

	switch {
	case blueLive && greenLive:
		return types.ProbeResult{}, fmt.Errorf(
			"both blue and green containers are running for %s: previous deployment may have failed, clean up manually", app)
	case blueLive:
		p.logger.Debug().Str("app", app).Str("image", blue.Image).Msg("blue is live")
		return types.ProbeResult{Color: types.ColorBlue, Image: blue.Image}, nil
	case greenLive:
		p.logger.Debug().Str("app", app).Str("image", green.Image).Msg("green is live")
		return types.ProbeResult{Color: types.ColorGreen, Image: green.Image}, nil
	}

	// No color-based containers; a host from before color adoption may
	// still run default-named ones.
	legacy, err := p.rt.Container(ctx, compose.LegacyName(app, primary))
	if err != nil {
		return types.ProbeResult{}, err
	}
	if legacy.State == types.ContainerStateRunning {
		p.logger.Info().Str("app", app).Msg("legacy default-named containers detected")
		return types.ProbeResult{Color: types.ColorNone, Image: legacy.Image, Legacy: true}, nil
	}

	return types.ProbeResult{Color: types.ColorNone}, nil
}
