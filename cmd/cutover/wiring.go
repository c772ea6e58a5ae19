package main

import (
	"fmt"

	"github.com/hullside/cutover/pkg/audit"
	"github.com/hullside/cutover/pkg/config"
	"github.com/hullside/cutover/pkg/deploy"
	"github.com/hullside/cutover/pkg/health"
	"github.com/hullside/cutover/pkg/probe"
	"github.com/hullside/cutover/pkg/proxy"
	"github.com/hullside/cutover/pkg/remote"
	"github.com/hullside/cutover/pkg/runtime"
)

// connect loads the config and opens the SSH connection every remote
// command flows through. The caller owns closing the runner.
func connect() (*config.App, *remote.SSHRunner, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	runner, err := remote.DialSSH(remote.SSHConfig{
		Addr:           cfg.Host.Addr,
		User:           cfg.Host.User,
		KeyFile:        cfg.Host.KeyFile,
		KnownHostsFile: cfg.Host.KnownHosts,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to reach deployment host: %w", err)
	}

	return cfg, runner, nil
}

// newDeployer assembles the promotion state machine from one config and
// one SSH connection.
func newDeployer(cfg *config.App, runner *remote.SSHRunner) *deploy.Deployer {
	docker := runtime.NewDockerClient(runner)

	gateCfg := health.Config{
		Attempts:           cfg.Deploy.HealthAttempts,
		Delay:              cfg.Deploy.HealthDelay,
		CrashLoopThreshold: cfg.Deploy.CrashLoopThreshold,
		Port:               cfg.Port,
		Path:               cfg.HealthPath,
		Marker:             cfg.HealthMarker,
	}
	rollbackCfg := gateCfg
	rollbackCfg.Attempts = cfg.Deploy.RollbackHealthAttempts

	return deploy.New(
		cfg,
		runner,
		docker,
		probe.New(docker),
		health.NewGate(docker, gateCfg),
		health.NewGate(docker, rollbackCfg),
		proxy.New(runner, cfg.Proxy),
		audit.New(cfg.AuditLog),
	)
}
