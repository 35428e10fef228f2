// ABOUTME: watch subcommand displaying streams relayed by a hub
// ABOUTME: Converts HTML frames to ANSI and renders the newest frame
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"pkt.systems/pslog"

	"github.com/asciistream/asciistream-go/internal/appconfig"
	"github.com/asciistream/asciistream-go/internal/ui"
	"github.com/asciistream/asciistream-go/pkg/protocol"
	"github.com/asciistream/asciistream-go/pkg/render"
	"github.com/asciistream/asciistream-go/pkg/transcode"
)

type watchOptions struct {
	server  string
	name    string
	stream  string
	noTUI   bool
	logFile string
}

func newWatchCmd() *cobra.Command {
	var opts watchOptions
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Display streams relayed by a hub",
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
			return runWatch(cmd.Context(), cfg, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.server, "server", "", "hub address host:port (empty discovers over mDNS)")
	f.StringVar(&opts.name, "name", "", "display name (default: hostname-asciistream-watcher)")
	f.StringVar(&opts.stream, "stream", "", "show only this stream ID")
	f.BoolVar(&opts.noTUI, "no-tui", false, "print frames to the terminal instead of the TUI")
	f.StringVar(&opts.logFile, "log-file", "asciistream-watch.log", "log file used while the TUI is active")
	return cmd
}

func (o watchOptions) apply(cmd *cobra.Command, cfg *appconfig.Config) {
	f := cmd.Flags()
	if f.Changed("server") {
		cfg.Client.ServerAddr = o.server
	}
	if f.Changed("name") {
		cfg.Client.Name = o.name
	}
	if o.noTUI {
		cfg.Capture.TUI = false
	}
}

// watcher relays hub frames to a renderer
type watcher struct {
	client   *protocol.Client
	renderer render.Renderer
	app      *ui.App
	filter   string
	log      pslog.Logger

	seq     uint64
	current string
}

func runWatch(ctx context.Context, cfg appconfig.Config, opts watchOptions) error {
	logger := pslog.Ctx(ctx)
	if cfg.Capture.TUI {
		var closeLog func()
		var err error
		ctx, logger, closeLog, err = openLogFile(ctx, opts.logFile)
		if err != nil {
			return err
		}
		defer closeLog()
	}

	addr, err := resolveServer(ctx, cfg.Client.ServerAddr, logger)
	if err != nil {
		return err
	}

	name := cfg.Client.Name
	if name == "" {
		name = defaultName("asciistream-watcher")
	}

	w := &watcher{
		client: protocol.NewClient(protocol.Config{
			ServerAddr: addr,
			Name:       name,
			Role:       protocol.RoleWatcher,
			Logger:     logger,
		}),
		filter: opts.stream,
		log:    logger,
	}

	policy := retryPolicy{
		Retries: cfg.Client.Retry,
		Backoff: time.Duration(cfg.Client.RetryBackoffMillis) * time.Millisecond,
		Timeout: time.Duration(cfg.Client.ConnectTimeoutSeconds) * time.Second,
	}
	var done <-chan struct{}
	err = policy.run(ctx, logger, func(ctx context.Context) error {
		var err error
		done, err = w.client.Connect(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = w.client.Close() }()

	if !cfg.Capture.TUI {
		out := render.NewWriter(os.Stdout)
		defer func() { _ = out.Close() }()
		w.renderer = out
		return w.run(ctx, done)
	}

	controls := ui.NewControls()
	w.app = ui.NewApp(fmt.Sprintf("asciistream watch · %s", w.client.Server().Name), controls)
	w.renderer = w.app
	connected := true
	w.app.Update(ui.StatusMsg{Connected: &connected, ServerName: addr})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := w.app.Run()
		if err == nil {
			err = errQuit
		}
		return err
	})
	g.Go(func() error {
		defer w.app.Stop()
		return w.run(gctx, done)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}

// run handles hub messages until ctx ends or the connection drops
func (w *watcher) run(ctx context.Context, done <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-done:
			if w.app != nil {
				connected := false
				w.app.Update(ui.StatusMsg{Connected: &connected, Error: "connection closed"})
			}
			return protocol.ErrConnectionClosed

		case start := <-w.client.StreamStarts:
			w.handleStart(start)

		case end := <-w.client.StreamEnds:
			w.handleEnd(end)

		case f := <-w.client.Frames:
			if err := w.handleFrame(f); err != nil {
				w.log.Debug("frame not rendered", "stream_id", f.StreamID, "err", err)
			}
		}
	}
}

func (w *watcher) handleStart(start protocol.StreamStart) {
	w.log.Info("stream started", "stream_id", start.StreamID, "producer", start.Producer)
	if !w.accepts(start.StreamID) || w.current != "" {
		return
	}
	w.follow(start.StreamID, start.Producer)
}

func (w *watcher) handleEnd(end protocol.StreamEnd) {
	w.log.Info("stream ended", "stream_id", end.StreamID, "reason", end.Reason)
	if end.StreamID != w.current {
		return
	}
	w.current = ""
	if w.app != nil {
		w.app.Update(ui.StatusMsg{Error: fmt.Sprintf("stream %s ended: %s", end.StreamID, end.Reason)})
	}
}

// handleFrame renders frames of the followed stream. With no filter the
// watcher follows the first stream it sees until that stream ends.
func (w *watcher) handleFrame(f protocol.StreamFrame) error {
	if !w.accepts(f.StreamID) {
		return nil
	}
	if w.current == "" {
		w.follow(f.StreamID, f.Producer)
	}
	if f.StreamID != w.current {
		return nil
	}

	text := f.Item
	if transcode.DetectMarkup(text) == transcode.MarkupHTML {
		converted, err := transcode.ToANSI(text)
		if err != nil {
			return err
		}
		text = converted
	}

	w.seq++
	return w.renderer.Render(transcode.Frame{Seq: w.seq, Markup: transcode.MarkupANSI, Text: text})
}

func (w *watcher) accepts(streamID string) bool {
	return w.filter == "" || w.filter == streamID
}

func (w *watcher) follow(streamID, producer string) {
	w.current = streamID
	if w.app != nil {
		w.app.Update(ui.StatusMsg{StreamID: streamID, Producer: producer})
	}
}
