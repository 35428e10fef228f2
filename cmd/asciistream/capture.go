// ABOUTME: capture subcommand streaming a video source to a hub
// ABOUTME: Runs the streamer under the TUI or with plain terminal output
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"pkt.systems/pslog"

	"github.com/asciistream/asciistream-go/internal/appconfig"
	"github.com/asciistream/asciistream-go/internal/logx"
	"github.com/asciistream/asciistream-go/internal/ui"
	"github.com/asciistream/asciistream-go/pkg/asciistream"
	"github.com/asciistream/asciistream-go/pkg/palette"
	"github.com/asciistream/asciistream-go/pkg/render"
	"github.com/asciistream/asciistream-go/pkg/session"
	"github.com/asciistream/asciistream-go/pkg/transcode"
	"github.com/asciistream/asciistream-go/pkg/video"
)

type captureOptions struct {
	server  string
	name    string
	source  string
	device  string
	url     string
	fps     int
	width   int
	height  int
	palette string
	markup  string
	retry   int
	noTUI   bool
	logFile string
}

func newCaptureCmd() *cobra.Command {
	var opts captureOptions
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture video, transcode it to colored text and stream it to a hub",
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
			return runCapture(cmd.Context(), cfg, opts.logFile)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.server, "server", "", "hub address host:port (empty discovers over mDNS)")
	f.StringVar(&opts.name, "name", "", "display name (default: hostname-asciistream)")
	f.StringVar(&opts.source, "source", "", "video source kind ("+strings.Join(video.Kinds(), ", ")+")")
	f.StringVar(&opts.device, "device", "", "capture device path")
	f.StringVar(&opts.url, "url", "", "source URL (MJPEG endpoint or ffmpeg input)")
	f.IntVar(&opts.fps, "fps", 0, "capture rate in frames per second")
	f.IntVar(&opts.width, "width", 0, "glyph grid width")
	f.IntVar(&opts.height, "height", 0, "glyph grid height")
	f.StringVar(&opts.palette, "palette", "", "named palette or literal glyph ramp")
	f.StringVar(&opts.markup, "markup", "", "cell markup: ansi or html")
	f.IntVar(&opts.retry, "retry", 0, "start attempts to retry on failure")
	f.BoolVar(&opts.noTUI, "no-tui", false, "print frames and logs to the terminal instead of the TUI")
	f.StringVar(&opts.logFile, "log-file", "asciistream.log", "log file used while the TUI is active")
	return cmd
}

// apply copies flags the user set over the loaded config
func (o captureOptions) apply(cmd *cobra.Command, cfg *appconfig.Config) {
	f := cmd.Flags()
	if f.Changed("server") {
		cfg.Client.ServerAddr = o.server
	}
	if f.Changed("name") {
		cfg.Client.Name = o.name
	}
	if f.Changed("source") {
		cfg.Source.Kind = o.source
	}
	if f.Changed("device") {
		cfg.Source.Device = o.device
	}
	if f.Changed("url") {
		cfg.Source.URL = o.url
	}
	if f.Changed("fps") {
		cfg.Capture.FPS = o.fps
	}
	if f.Changed("width") {
		cfg.Capture.Width = o.width
	}
	if f.Changed("height") {
		cfg.Capture.Height = o.height
	}
	if f.Changed("palette") {
		if _, err := palette.Named(o.palette); err == nil {
			cfg.Capture.Palette = o.palette
			cfg.Capture.CustomPalette = ""
		} else {
			cfg.Capture.CustomPalette = o.palette
		}
	}
	if f.Changed("markup") {
		cfg.Capture.Markup = o.markup
	}
	if f.Changed("retry") {
		cfg.Client.Retry = o.retry
	}
	if o.noTUI {
		cfg.Capture.TUI = false
	}
}

// defaultName builds a hostname-based display name
func defaultName(suffix string) string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%s", hostname, suffix)
}

// openLogFile redirects logging to path while a TUI owns the terminal
func openLogFile(ctx context.Context, path string) (context.Context, pslog.Logger, func(), error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return ctx, nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger := logx.NewStructured(f)
	return pslog.ContextWithLogger(ctx, logger), logger, func() { _ = f.Close() }, nil
}

// localRenderer shows HTML frames on the terminal as ANSI
func localRenderer(r render.Renderer, markup transcode.Markup) render.Renderer {
	if markup == transcode.MarkupHTML {
		return render.ANSI(r)
	}
	return r
}

type captureRun struct {
	cfg      appconfig.Config
	addr     string
	log      pslog.Logger
	streamer *asciistream.Streamer
	app      *ui.App
	controls *ui.Controls
	policy   retryPolicy
	errs     chan error
}

func runCapture(ctx context.Context, cfg appconfig.Config, logFile string) error {
	logger := pslog.Ctx(ctx)
	if cfg.Capture.TUI {
		var closeLog func()
		var err error
		ctx, logger, closeLog, err = openLogFile(ctx, logFile)
		if err != nil {
			return err
		}
		defer closeLog()
	}

	pal, err := cfg.Capture.ResolvePalette()
	if err != nil {
		return err
	}
	markup, err := transcode.ParseMarkup(cfg.Capture.Markup)
	if err != nil {
		return err
	}
	addr, err := resolveServer(ctx, cfg.Client.ServerAddr, logger)
	if err != nil {
		return err
	}

	vcfg := cfg.VideoConfig()
	vcfg.Logger = logger
	src, err := video.Open(ctx, vcfg)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	name := cfg.Client.Name
	if name == "" {
		name = defaultName("asciistream")
	}

	r := &captureRun{
		cfg:  cfg,
		addr: addr,
		log:  logger,
		policy: retryPolicy{
			Retries: cfg.Client.Retry,
			Backoff: time.Duration(cfg.Client.RetryBackoffMillis) * time.Millisecond,
			Timeout: time.Duration(cfg.Client.ConnectTimeoutSeconds) * time.Second,
		},
		errs: make(chan error, 1),
	}

	var renderer render.Renderer
	if cfg.Capture.TUI {
		r.controls = ui.NewControls()
		r.app = ui.NewApp(fmt.Sprintf("asciistream · %s", name), r.controls)
		renderer = r.app
	} else {
		w := render.NewWriter(os.Stdout)
		defer func() { _ = w.Close() }()
		renderer = w
	}
	renderer = localRenderer(renderer, markup)

	r.streamer, err = asciistream.NewStreamer(asciistream.StreamerConfig{
		ServerAddr:    addr,
		Name:          name,
		Source:        src,
		Width:         cfg.Capture.Width,
		Height:        cfg.Capture.Height,
		FPS:           cfg.Capture.FPS,
		Palette:       pal,
		Markup:        markup,
		Renderer:      renderer,
		QueueSize:     cfg.Client.QueueSize,
		Logger:        logger,
		OnStateChange: r.onStateChange,
		OnError:       r.onError,
	})
	if err != nil {
		return err
	}
	defer func() { _ = r.streamer.Close() }()

	if r.app == nil {
		if err := r.start(ctx); err != nil {
			return err
		}
		return r.loop(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := r.app.Run()
		if err == nil {
			err = errQuit
		}
		return err
	})
	g.Go(func() error {
		defer r.app.Stop()
		if err := r.start(gctx); err != nil {
			r.app.Update(ui.StatusMsg{Error: err.Error()})
		}
		return r.loop(gctx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}

// errQuit ends the errgroup when the TUI exits normally
var errQuit = errors.New("quit")

func (r *captureRun) start(ctx context.Context) error {
	err := r.policy.run(ctx, r.log, r.streamer.Start)
	if err != nil {
		r.log.With("err", err).Error("start failed")
	}
	r.publishStatus()
	return err
}

func (r *captureRun) loop(ctx context.Context) error {
	var commands chan ui.Command
	if r.controls != nil {
		commands = r.controls.Commands
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case cmd := <-commands:
			switch cmd {
			case ui.CommandStart:
				_ = r.start(ctx)
			case ui.CommandStop:
				r.streamer.Stop()
				r.log.Info("capture stopped")
				r.publishStatus()
			case ui.CommandQuit:
				return nil
			}

		case err := <-r.errs:
			r.log.Warn("stream closed", "err", err)
			if r.app != nil {
				r.app.Update(ui.StatusMsg{Error: err.Error()})
			}
			if r.cfg.Client.Retry > 0 {
				if err := r.start(ctx); err != nil && r.app == nil {
					return err
				}
			} else if r.app == nil {
				return err
			}

		case <-ticker.C:
			r.publishStatus()
		}
	}
}

func (r *captureRun) onStateChange(state session.State) {
	r.log.Debug("connection state", "state", state.String())
	if r.app != nil {
		connected := state == session.Connected
		r.app.Update(ui.StatusMsg{Connected: &connected})
	}
}

// onError hands stream failures to the control loop
func (r *captureRun) onError(err error) {
	select {
	case r.errs <- err:
	default:
	}
}

func (r *captureRun) publishStatus() {
	if r.app == nil {
		return
	}
	st := r.streamer.Status()
	connected := st.State == session.Connected
	armed := st.Armed
	r.app.Update(ui.StatusMsg{
		Connected:  &connected,
		Armed:      &armed,
		ServerName: r.addr,
		StreamID:   st.StreamID,
		Published:  st.Capture.Published,
		Dropped:    st.Capture.Dropped,
		Skipped:    st.Capture.Skipped,
		Overruns:   st.Capture.Overruns,
	})
}
