package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"countdowncal/internal/capture"
	"countdowncal/internal/clocksync"
	"countdowncal/internal/config"
	"countdowncal/internal/countdown"
	"countdowncal/internal/ics"
	appLog "countdowncal/internal/log"
	"countdowncal/internal/web"
)

// rootFlags holds values shared by every subcommand.
type rootFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "countdowncal",
		Short:         "Countdown calendar web service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if flags.logLevel != "" {
				appLog.SetLevel(appLog.ParseLevel(flags.logLevel))
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "/etc/countdowncal/config.yaml", "Path to config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, error); overrides config")

	root.AddCommand(
		newServeCmd(flags),
		newPrintCmd(flags),
		newICSCmd(flags),
		newSnapshotCmd(flags),
	)
	return root
}

// loadConfig loads the config file and applies its log level unless the
// flag already set one.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	conf, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", flags.configPath, err)
	}
	if flags.logLevel == "" {
		appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	}
	return conf, nil
}

// app bundles the pieces every command builds from config.
type app struct {
	loc   *time.Location
	board *countdown.Board
	sync  *clocksync.Sync
}

func newApp(conf *config.Config) (*app, error) {
	loc, err := conf.Location()
	if err != nil {
		return nil, err
	}
	r, err := conf.DateRange()
	if err != nil {
		return nil, err
	}
	source := clocksync.NewHTTPSource(conf.TimeSource.URL, nil)
	return &app{
		loc:   loc,
		board: countdown.NewBoard(r, conf.MessageTable(), conf.WeekStartDay()),
		sync:  clocksync.New(source, loc),
	}, nil
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the countdown page and API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig(flags)
			if err != nil {
				return err
			}
			// CLI --listen overrides config file listen if provided.
			if listen != "" {
				conf.Listen = listen
			}
			return runServe(cmd.Context(), conf)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}

func runServe(ctx context.Context, conf *config.Config) error {
	a, err := newApp(conf)
	if err != nil {
		return err
	}

	appLog.Info("countdowncal starting",
		"version", version,
		"listen", conf.Listen,
		"timezone", a.loc.String(),
		"start", conf.StartDate,
		"arrival", conf.ArrivalDate,
		"time_source", conf.TimeSource.URL,
		"tick", conf.TickPeriod().String(),
		"messages", len(conf.Messages),
	)

	if conf.Preview.Cron != "" {
		stop, err := schedulePreview(conf, a.loc)
		if err != nil {
			return err
		}
		defer stop()
	}

	srv := web.NewServer(conf, a.board)
	ctrl := clocksync.NewController(a.sync, conf.TickPeriod(), a.board.Update)

	g, gctx := errgroup.WithContext(ctx)
	ready := make(chan struct{})

	g.Go(func() error {
		return srv.Serve(gctx, ready)
	})
	g.Go(func() error {
		// The default time source is this server, so sync once it listens.
		select {
		case <-ready:
		case <-gctx.Done():
			return nil
		}
		return ctrl.Run(gctx)
	})

	err = g.Wait()
	appLog.Info("countdowncal exiting")
	return err
}

// schedulePreview captures the page on conf.Preview.Cron. Failures are
// logged; the next run tries again.
func schedulePreview(conf *config.Config, loc *time.Location) (stop func(), err error) {
	c := cron.New(cron.WithLocation(loc))
	opts := previewOptions(conf)

	_, err = c.AddFunc(conf.Preview.Cron, func() {
		if err := capture.CapturePNG(context.Background(), opts); err != nil {
			appLog.Error("scheduled preview capture failed", err, "url", opts.URL)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("preview cron %q: %w", conf.Preview.Cron, err)
	}

	c.Start()
	appLog.Info("preview capture scheduled", "cron", conf.Preview.Cron, "output", opts.OutputPath)
	return func() { <-c.Stop().Done() }, nil
}

func previewOptions(conf *config.Config) capture.Options {
	return capture.Options{
		URL:        conf.Preview.URL,
		OutputPath: conf.Preview.Output,
		Width:      conf.Preview.Width,
		Height:     conf.Preview.Height,
	}
}

func newPrintCmd(flags *rootFlags) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "print",
		Short: "Print the countdown and calendar once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig(flags)
			if err != nil {
				return err
			}
			a, err := newApp(conf)
			if err != nil {
				return err
			}

			var now time.Time
			if at != "" {
				now, err = time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				now = now.In(a.loc)
			} else {
				a.sync.Initialize(cmd.Context())
				now = a.sync.Now()
			}

			days, err := ics.Occurrences(a.board.Range())
			if err != nil {
				return err
			}

			a.board.Update(now)
			if err := renderText(cmd.OutOrStdout(), a.board); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "\nSpan: %d days (%s to %s)\n", len(days),
				days[0].Format(time.DateOnly), days[len(days)-1].Format(time.DateOnly))
			return err
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Evaluate at this RFC 3339 instant instead of syncing the clock")
	return cmd
}

func newICSCmd(flags *rootFlags) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "ics",
		Short: "Write the countdown as an iCalendar feed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig(flags)
			if err != nil {
				return err
			}
			r, err := conf.DateRange()
			if err != nil {
				return err
			}
			body, err := ics.Export(r, ics.ExportOptions{})
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(body)
				return err
			}
			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				return err
			}
			return os.WriteFile(out, body, 0o644)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "-", "Output path, - for stdout")
	return cmd
}

func newSnapshotCmd(flags *rootFlags) *cobra.Command {
	var (
		url, out      string
		width, height int
	)

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture a PNG preview of a running countdown page",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := capture.Options{URL: url, OutputPath: out, Width: width, Height: height}
			if url == "" || out == "" {
				conf, err := loadConfig(flags)
				if err != nil {
					return err
				}
				def := previewOptions(conf)
				if opts.URL == "" {
					opts.URL = def.URL
				}
				if opts.OutputPath == "" {
					opts.OutputPath = def.OutputPath
				}
				if opts.Width == 0 {
					opts.Width = def.Width
				}
				if opts.Height == 0 {
					opts.Height = def.Height
				}
			}
			if err := capture.CapturePNG(cmd.Context(), opts); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Page URL (defaults to preview.url)")
	cmd.Flags().StringVar(&out, "out", "", "PNG output path (defaults to preview.output)")
	cmd.Flags().IntVar(&width, "width", 0, "Viewport width in pixels")
	cmd.Flags().IntVar(&height, "height", 0, "Viewport height in pixels")
	return cmd
}
