// ABOUTME: serve subcommand running an asciistream hub
// ABOUTME: Optionally shows connected clients and streams in a TUI
package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"pkt.systems/pslog"

	"github.com/asciistream/asciistream-go/internal/appconfig"
	"github.com/asciistream/asciistream-go/internal/ui"
	"github.com/asciistream/asciistream-go/pkg/asciistream"
)

type serveOptions struct {
	port    int
	name    string
	noMDNS  bool
	tui     bool
	logFile string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a hub that relays producer streams to watchers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			opts.apply(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, opts.logFile)
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.port, "port", 0, "WebSocket listen port")
	f.StringVar(&opts.name, "name", "", "hub name (default: hostname-asciistream-hub)")
	f.BoolVar(&opts.noMDNS, "no-mdns", false, "disable mDNS advertisement")
	f.BoolVar(&opts.tui, "tui", false, "show the hub status TUI")
	f.StringVar(&opts.logFile, "log-file", "asciistream-hub.log", "log file used while the TUI is active")
	return cmd
}

func (o serveOptions) apply(cmd *cobra.Command, cfg *appconfig.Config) {
	f := cmd.Flags()
	if f.Changed("port") {
		cfg.Hub.Port = o.port
	}
	if f.Changed("name") {
		cfg.Hub.Name = o.name
	}
	if o.noMDNS {
		cfg.Hub.MDNS = false
	}
	if f.Changed("tui") {
		cfg.Hub.TUI = o.tui
	}
}

func runServe(ctx context.Context, cfg appconfig.Config, logFile string) error {
	logger := pslog.Ctx(ctx)
	if cfg.Hub.TUI {
		var closeLog func()
		var err error
		ctx, logger, closeLog, err = openLogFile(ctx, logFile)
		if err != nil {
			return err
		}
		defer closeLog()
	}

	name := cfg.Hub.Name
	if name == "" {
		name = defaultName("asciistream-hub")
	}

	srv, err := asciistream.NewServer(asciistream.ServerConfig{
		Port:       cfg.Hub.Port,
		Name:       name,
		Path:       cfg.Hub.Path,
		SendQueue:  cfg.Hub.SendQueue,
		EnableMDNS: cfg.Hub.MDNS,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	var (
		hub  *ui.HubTUI
		quit <-chan struct{}
		tick <-chan time.Time
	)
	if cfg.Hub.TUI {
		hub = ui.NewHubTUI()
		quit = hub.QuitChan()
		go func() {
			if err := hub.Start(name, cfg.Hub.Port); err != nil {
				logger.Warn("hub tui exited", "err", err)
			}
		}()
		defer hub.Stop()

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case err := <-errc:
			return err
		case <-tick:
			hub.Update(hubStatus(srv, name, cfg.Hub.Port))
			continue
		case <-ctx.Done():
			logger.Info("shutting down")
		case <-quit:
			logger.Info("quit requested")
		}
		srv.Stop()
		return <-errc
	}
}

func hubStatus(srv *asciistream.Server, name string, port int) ui.HubStatus {
	status := ui.HubStatus{Name: name, Port: port}
	for _, c := range srv.Clients() {
		status.Clients = append(status.Clients, ui.HubClient{
			ID:      c.ID,
			Name:    c.Name,
			Role:    c.Role,
			Dropped: c.Dropped,
		})
	}
	for _, s := range srv.Streams() {
		status.Streams = append(status.Streams, ui.HubStream{
			ID:       s.ID,
			Producer: s.Producer,
			Frames:   s.Frames,
			Started:  s.Started,
		})
	}
	return status
}
