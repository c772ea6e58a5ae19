package image

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/hullside/cutover/pkg/config"
	"github.com/hullside/cutover/pkg/log"
	"github.com/hullside/cutover/pkg/remote"
)

// timestampTag is the immutable tag format produced when no commit hash
// is available. Lexicographic comparison of these tags is only valid
// while the format keeps its fixed width, so freshness checks verify
// both sides against this pattern before comparing.
var timestampTag = regexp.MustCompile(`^\d{8}-\d{6}$`)

// VersionTag returns the immutable tag for this build: the short commit
// hash when known, otherwise a UTC timestamp.
func VersionTag(commit string, now time.Time) string {
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		return commit
	}
	return now.UTC().Format("20060102-150405")
}

// IsFresher reports whether deploying newTag over currentTag moves
// forward. "latest" bypasses the check entirely (mutable tags carry no
// ordering), and tags that are not both timestamps are assumed fresh
// because nothing safe can be said about their order.
func IsFresher(newTag, currentTag string) bool {
	if newTag == "latest" || currentTag == "latest" || currentTag == "" {
		return true
	}
	if timestampTag.MatchString(newTag) && timestampTag.MatchString(currentTag) {
		return newTag > currentTag
	}
	return newTag != currentTag
}

// TagOf extracts the tag portion of an image reference.
func TagOf(ref string) string {
	for i := len(ref) - 1; i >= 0; i-- {
		switch ref[i] {
		case ':':
			return ref[i+1:]
		case '/':
			return ""
		}
	}
	return ""
}

// Pipeline builds an application image and moves it onto the target
// host, either through a registry or straight over the SSH channel.
// Every failure here is non-destructive: no running container has been
// touched yet.
type Pipeline struct {
	local  remote.Runner
	host   remote.Runner
	cfg    config.Image
	logger zerolog.Logger

	// saveStream produces the docker save|gzip byte stream for SSH
	// transfer. Overridable in tests.
	saveStream func(ctx context.Context, ref string) (io.ReadCloser, func() error, error)
}

// New creates a pipeline. local runs builds on this machine; host is
// the deployment target.
func New(local, host remote.Runner, cfg config.Image) *Pipeline {
	p := &Pipeline{
		local:  local,
		host:   host,
		cfg:    cfg,
		logger: log.WithComponent("image"),
	}
	p.saveStream = p.dockerSaveStream
	return p
}

// Ref returns the full image reference for a tag.
func (p *Pipeline) Ref(tag string) string {
	return fmt.Sprintf("%s:%s", p.cfg.Repository, tag)
}

// Build produces the image for tag and returns its full reference.
func (p *Pipeline) Build(ctx context.Context, tag string) (string, error) {
	ref := p.Ref(tag)

	line := fmt.Sprintf("docker build -t %s", remote.Quote(ref))
	if p.cfg.Platform != "" {
		line += " --platform " + remote.Quote(p.cfg.Platform)
	}
	line += " " + remote.Quote(p.cfg.BuildContext)

	p.logger.Info().Str("image", ref).Msg("building image")
	if _, err := p.local.Run(ctx, remote.Command{Line: line}); err != nil {
		return "", fmt.Errorf("image build failed: %w", err)
	}
	return ref, nil
}

// Transfer moves the image onto the target host using the configured
// mode.
func (p *Pipeline) Transfer(ctx context.Context, ref string) error {
	switch p.cfg.Transfer {
	case config.TransferRegistry:
		return p.registryTransfer(ctx, ref)
	case config.TransferSSH:
		return p.sshTransfer(ctx, ref)
	default:
		return fmt.Errorf("unknown transfer mode %q", p.cfg.Transfer)
	}
}

func (p *Pipeline) registryTransfer(ctx context.Context, ref string) error {
	p.logger.Info().Str("image", ref).Msg("pushing image")
	if _, err := p.local.Run(ctx, remote.Command{
		Line: "docker push " + remote.Quote(ref),
	}); err != nil {
		return fmt.Errorf("image push failed: %w", err)
	}

	p.logger.Info().Str("image", ref).Str("host", p.host.Target()).Msg("pulling image")
	if _, err := p.host.Run(ctx, remote.Command{
		Line: "docker pull " + remote.Quote(ref),
	}); err != nil {
		return fmt.Errorf("image pull failed on %s: %w", p.host.Target(), err)
	}
	return nil
}

// sshTransfer streams docker save output through gzip and the SSH
// channel into docker load on the target, for hosts with no registry
// access.
func (p *Pipeline) sshTransfer(ctx context.Context, ref string) error {
	p.logger.Info().Str("image", ref).Str("host", p.host.Target()).Msg("transferring image over ssh")

	stream, wait, err := p.saveStream(ctx, ref)
	if err != nil {
		return fmt.Errorf("failed to start image export: %w", err)
	}
	defer stream.Close()

	if _, err := p.host.Run(ctx, remote.Command{
		Line:  "gunzip -c | docker load",
		Stdin: stream,
	}); err != nil {
		return fmt.Errorf("image load failed on %s: %w", p.host.Target(), err)
	}

	if err := wait(); err != nil {
		return fmt.Errorf("image export failed: %w", err)
	}
	return nil
}

func (p *Pipeline) dockerSaveStream(ctx context.Context, ref string) (io.ReadCloser, func() error, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c",
		fmt.Sprintf("docker save %s | gzip -c", remote.Quote(ref)))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}
	return stdout, cmd.Wait, nil
}
