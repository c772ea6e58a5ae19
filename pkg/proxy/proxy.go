package proxy

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hullside/cutover/pkg/config"
	"github.com/hullside/cutover/pkg/log"
	"github.com/hullside/cutover/pkg/remote"
)

// serverLine matches the single upstream server directive in an app's
// proxy config. The whole flip is a rewrite of this one line.
var serverLine = regexp.MustCompile(`(?m)^(\s*server\s+)(\S+?)(;.*)$`)

// Flipper rewrites the reverse proxy's upstream binding for one
// application and reloads the proxy without restarting it.
type Flipper struct {
	runner    remote.Runner
	container string
	confPath  string
	logger    zerolog.Logger
}

// New creates a flipper for the proxy described in cfg.
func New(runner remote.Runner, cfg config.Proxy) *Flipper {
	return &Flipper{
		runner:    runner,
		container: cfg.Container,
		confPath:  cfg.ConfPath,
		logger:    log.WithComponent("proxy"),
	}
}

// CurrentUpstream returns the container:port the proxy currently routes
// this application to.
func (f *Flipper) CurrentUpstream(ctx context.Context) (string, error) {
	conf, err := f.readConf(ctx)
	if err != nil {
		return "", err
	}

	m := serverLine.FindStringSubmatch(conf)
	if m == nil {
		return "", fmt.Errorf("no upstream server directive in %s", f.confPath)
	}
	return m[2], nil
}

// Flip points the upstream at target (container:port), validates the
// rewritten config inside the proxy container, and performs a hitless
// reload. A reload that does not succeed leaves the previous config
// restored and is fatal to the caller: the old upstream is the only
// proven-good route at that moment.
func (f *Flipper) Flip(ctx context.Context, target string) error {
	conf, err := f.readConf(ctx)
	if err != nil {
		return err
	}

	if !serverLine.MatchString(conf) {
		return fmt.Errorf("no upstream server directive in %s", f.confPath)
	}

	updated := serverLine.ReplaceAllString(conf, "${1}"+target+"${3}")
	if updated == conf {
		f.logger.Info().Str("target", target).Msg("proxy already routes to target")
		return f.reload(ctx)
	}

	if err := f.runner.WriteFile(ctx, f.confPath, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("failed to write proxy config: %w", err)
	}

	if err := f.validate(ctx); err != nil {
		// Put the known-good config back before reporting failure
		if restoreErr := f.runner.WriteFile(ctx, f.confPath, []byte(conf), 0o644); restoreErr != nil {
			return fmt.Errorf("proxy config invalid (%v) and restore failed: %w", err, restoreErr)
		}
		return fmt.Errorf("rewritten proxy config failed validation: %w", err)
	}

	if err := f.reload(ctx); err != nil {
		return err
	}

	f.logger.Info().Str("target", target).Msg("proxy route flipped")
	return nil
}

func (f *Flipper) readConf(ctx context.Context) (string, error) {
	res, err := f.runner.Run(ctx, remote.Command{
		Line: "cat " + remote.Quote(f.confPath),
	})
	if err != nil {
		return "", fmt.Errorf("failed to read proxy config %s: %w", f.confPath, err)
	}
	return res.Stdout, nil
}

func (f *Flipper) validate(ctx context.Context) error {
	res, err := f.runner.Run(ctx, remote.Command{
		Line:   fmt.Sprintf("docker exec %s nginx -t", remote.Quote(f.container)),
		OKExit: []int{0, 1},
	})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("nginx -t: %s", strings.TrimSpace(res.Stderr))
	}
	return nil
}

func (f *Flipper) reload(ctx context.Context) error {
	_, err := f.runner.Run(ctx, remote.Command{
		Line: fmt.Sprintf("docker exec %s nginx -s reload", remote.Quote(f.container)),
	})
	if err != nil {
		return fmt.Errorf("proxy reload failed: %w", err)
	}
	return nil
}
