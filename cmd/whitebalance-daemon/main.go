// Package main provides the entry point for the display white balance daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/shini4i/whitebalance-daemon/internal/config"
	"github.com/shini4i/whitebalance-daemon/internal/dbus"
	"github.com/shini4i/whitebalance-daemon/internal/gamma"
	"github.com/shini4i/whitebalance-daemon/internal/schedule"
	"github.com/shini4i/whitebalance-daemon/internal/service"
	"github.com/shini4i/whitebalance-daemon/internal/tint"
	"github.com/shini4i/whitebalance-daemon/internal/transform"
	"github.com/shini4i/whitebalance-daemon/internal/udev"
)

var (
	verbose    bool
	configPath string
	cct        int

	rootCmd = &cobra.Command{
		Use:   "whitebalance-daemon",
		Short: "D-Bus daemon adapting the display white point to a color temperature",
		Long: `whitebalance-daemon is a D-Bus service that tints the display so that its
white point matches a requested correlated color temperature.

It reads the panel primaries from the EDID (or the configuration), computes a
chromatic adaptation matrix for the requested temperature and applies it to
the display. Temperatures can be set over D-Bus or follow the sun.`,
		Run: func(cmd *cobra.Command, args []string) {
			run()
		},
	}

	matrixCmd = &cobra.Command{
		Use:   "matrix",
		Short: "Print the white balance matrix for a color temperature",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return printMatrix(cmd.OutOrStdout(), cfg, cct)
		},
	}
)

// settleDelay is how long to wait after a hot-plug event before reading the
// EDID; connectors report the new state before the EDID is readable. The rest
// of the event burst arrives meanwhile and is debounced by the monitor.
var settleDelay = 500 * time.Millisecond

// retryBackoff is the linear backoff step between refresh attempts.
var retryBackoff = 500 * time.Millisecond

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the JSON configuration file")
	matrixCmd.Flags().IntVar(&cct, "cct", 0, "Color temperature in Kelvin (default: configured default)")
	rootCmd.AddCommand(matrixCmd)
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func run() {
	setupLogging()

	log.Info().Msg("Starting whitebalance-daemon")

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	manager := transform.NewManager()
	svc := service.New(cfg, manager)

	// Initialize D-Bus server
	server := dbus.NewServer(svc)
	manager.AddSink(server)
	svc.OnTemperatureChanged(server.EmitTemperatureChanged)

	var x11 *gamma.X11
	if cfg.Output.X11 {
		sink, errs, err := gamma.NewX11(cfg.Output.Display)
		if err != nil {
			log.Error().Err(err).Msg("Failed to connect X11 output (matrix will only be published over D-Bus)")
		} else {
			x11 = sink
			manager.AddSink(x11)
			go func() {
				if err := <-errs; err != nil {
					log.Error().Err(err).Msg("X11 output connection lost")
				}
			}()
		}
	}

	if err := svc.Start(); err != nil {
		log.Warn().Err(err).Msg("Display white balance disabled until the display color space is known")
	}

	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start D-Bus server")
	}

	// Initialize udev monitor for hot-plug detection
	monitor := udev.NewMonitor(createHotplugHandler(svc))
	monitor.SetRecoveryHandler(createRecoveryHandler(svc))
	if err := monitor.Start(); err != nil {
		log.Error().Err(err).Msg("Failed to start udev monitor (hot-plug detection disabled)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := newScheduleRunner(ctx, svc)
	sched.restart(cfg.Schedule)

	if configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, func(cfg *config.Config) {
				if err := svc.Reload(cfg); err != nil {
					log.Warn().Err(err).Msg("Reloaded configuration left white balance unavailable")
				}
				sched.restart(cfg.Schedule)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Configuration watcher stopped")
			}
		}()
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Info().Msg("Daemon running, press Ctrl+C to stop")
	<-sigChan

	log.Info().Msg("Shutting down...")
	cancel()
	sched.stop()
	if err := monitor.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop udev monitor")
	}
	if err := server.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop D-Bus server")
	}
	if x11 != nil {
		x11.Close()
	}

	log.Info().Msg("Daemon stopped")
}

// printMatrix computes the white balance matrix for cct, or the configured
// default if cct is 0, and writes it with the display color space.
func printMatrix(w io.Writer, cfg *config.Config, cct int) error {
	wb := tint.NewWhiteBalance(cfg.WhiteBalance.Adaptation)
	err := wb.SetUp(cfg.WhiteBalance.Range, cfg.Display.NominalWhite, service.DefaultSources(cfg)...)
	if err != nil {
		return fmt.Errorf("failed to set up white balance: %w", err)
	}
	wb.SetActivated(true)

	if cct != 0 {
		if _, err := wb.SetTemperature(cct); err != nil {
			return fmt.Errorf("failed to compute matrix: %w", err)
		}
	}

	fmt.Fprintf(w, "temperature = %d\n", wb.Temperature())
	fmt.Fprintf(w, "adaptation = %s\n", cfg.WhiteBalance.Adaptation)
	fmt.Fprintf(w, "matrix = %s\n", wb.Matrix())
	return nil
}

// scheduleRunner runs the solar scheduler and restarts it on configuration
// changes.
type scheduleRunner struct {
	parent context.Context
	svc    *service.Service

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newScheduleRunner(ctx context.Context, svc *service.Service) *scheduleRunner {
	return &scheduleRunner{parent: ctx, svc: svc}
}

func (r *scheduleRunner) restart(cfg config.Schedule) {
	r.stop()
	if !cfg.Enabled {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithCancel(r.parent)
	done := make(chan struct{})
	r.cancel, r.done = cancel, done

	scheduler := schedule.NewScheduler(cfg.Solar, cfg.Interval, func(cct int) error {
		_, err := r.svc.SetTemperature(cct)
		return err
	})

	go func() {
		defer close(done)
		if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Temperature schedule stopped")
		}
	}()
	log.Info().
		Float64("latitude", cfg.Solar.Latitude).
		Float64("longitude", cfg.Solar.Longitude).
		Dur("interval", cfg.Interval).
		Msg("Temperature schedule started")
}

func (r *scheduleRunner) stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// refresher re-resolves the display color space.
type refresher interface {
	Refresh() error
}

// refreshMu serializes refresh operations to prevent race conditions
// between hotplug handlers and recovery handlers.
var refreshMu sync.Mutex

// refreshWithRetry attempts to refresh the display color space with linear
// backoff. It retries up to maxRetries times with increasing delays between
// attempts.
func refreshWithRetry(svc refresher, maxRetries int) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * retryBackoff
			log.Debug().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Retrying display refresh")
			time.Sleep(backoff)
		}

		if err := svc.Refresh(); err != nil {
			lastErr = err
			log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Int("maxRetries", maxRetries+1).
				Msg("Display refresh failed")
			continue
		}

		if attempt > 0 {
			log.Info().Int("attempts", attempt+1).Msg("Display refresh succeeded after retry")
		}
		return nil
	}
	return lastErr
}

// createHotplugHandler returns an event handler that re-reads the display
// color space. The handler uses the shared refreshMu to prevent race
// conditions with recovery handlers.
func createHotplugHandler(svc refresher) udev.EventHandler {
	return func(event udev.Event) {
		refreshMu.Lock()
		defer refreshMu.Unlock()

		if event.Type != udev.EventRemove {
			time.Sleep(settleDelay)
		}

		if err := refreshWithRetry(svc, 3); err != nil {
			log.Error().Err(err).Str("event", event.Type.String()).Msg("Failed to refresh display after hot-plug event (all retries exhausted)")
		}
	}
}

// createRecoveryHandler returns a handler for netlink buffer overflow
// recovery. It refreshes the display color space to recover from potentially
// missed udev events.
func createRecoveryHandler(svc refresher) udev.RecoveryHandler {
	return func() {
		refreshMu.Lock()
		defer refreshMu.Unlock()

		log.Info().Msg("Performing recovery refresh after netlink buffer overflow")
		time.Sleep(settleDelay)

		if err := refreshWithRetry(svc, 3); err != nil {
			log.Error().Err(err).Msg("Recovery refresh failed (all retries exhausted)")
			return
		}
		log.Info().Msg("Recovery refresh completed")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("Failed to execute command")
	}
}
