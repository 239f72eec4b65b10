package internal

import (
	"time"

	"github.com/bundleup/bundleup/internal/assets"
	"github.com/bundleup/bundleup/internal/checker"
	"github.com/bundleup/bundleup/internal/config"
	"github.com/bundleup/bundleup/internal/host"
	"github.com/bundleup/bundleup/internal/models"
	"github.com/bundleup/bundleup/internal/service"
	"github.com/bundleup/bundleup/internal/state"
	"github.com/bundleup/bundleup/internal/telemetry"

	"github.com/spf13/cobra"
)

// app wires the engine's collaborators from the loaded config. Each
// command builds one; nothing is shared between invocations.
type app struct {
	cfg      *config.Config
	client   service.HTTPClient
	pre      *state.Store
	post     *state.Store
	rt       *host.FSRuntime
	checker  *checker.Client
	assets   *assets.Synchronizer
	reporter telemetry.Reporter
}

func buildApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	client := service.NewHTTPClient(30 * time.Second)

	var opts []host.Option
	if cfg.BaselineBundle != "" {
		opts = append(opts, host.WithBaselineSeed(cfg.BaselineBundle))
	}

	var reporter telemetry.Reporter = telemetry.Nop{}
	if !cfg.DisableTelemetry {
		reporter = telemetry.NewHTTPReporter(client, cfg.ServerURL, cfg.DeviceID)
	}

	return &app{
		cfg:      cfg,
		client:   client,
		pre:      state.New(state.NewFileBackend(cfg.PreBootStatePath())),
		post:     state.New(state.NewFileBackend(cfg.PostBootStatePath())),
		rt:       host.NewFSRuntime(cfg.BundlesDir(), client, opts...),
		checker:  checker.New(cfg.ServerURL, client),
		assets:   assets.NewSynchronizer(client, cfg.AssetsDir()),
		reporter: reporter,
	}, nil
}

func (a *app) identity() models.CheckRequest {
	return models.CheckRequest{
		DeploymentKey: a.cfg.DeploymentKey,
		DeviceID:      a.cfg.DeviceID,
		Platform:      a.cfg.Platform,
		AppVersion:    a.cfg.AppVersion,
	}
}
