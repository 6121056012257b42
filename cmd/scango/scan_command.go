package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cjeanneret/scango/internal/config"
	"github.com/cjeanneret/scango/internal/debug"
	"github.com/cjeanneret/scango/internal/store"
)

// ErrNoMatch is returned by scan when the timeout expires first.
var ErrNoMatch = errors.New("no barcode found")

type scanOptions struct {
	timeout         time.Duration
	continuous      bool
	jsonOutput      bool
	scanWidth       int
	scanHeight      int
	focusIntervalMs int
	formats         []string
}

func newScanCommand(ctx *commandContext) *cobra.Command {
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan until a barcode is decoded",
		Long: "Open the configured camera and scan until a barcode is decoded.\n" +
			"With --continuous the scanner restarts after every match until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig(cmd)
			if err != nil {
				return err
			}
			if err := opts.validate(); err != nil {
				return err
			}
			if opts.scanWidth > 0 {
				cfg.Geometry.ManualWidth = opts.scanWidth
				cfg.Geometry.ManualHeight = opts.scanHeight
			}
			if cmd.Flags().Changed("focus-interval-ms") {
				cfg.Pipeline.FocusIntervalMs = opts.focusIntervalMs
			}
			if len(opts.formats) > 0 {
				cfg.Decode.Formats = opts.formats
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if opts.timeout > 0 {
				var cancel context.CancelFunc
				runCtx, cancel = context.WithTimeout(runCtx, opts.timeout)
				defer cancel()
			}

			s, err := newScanner(cfg)
			if err != nil {
				return err
			}
			defer s.Close()
			return runScan(runCtx, cmd, s, opts, cfg)
		},
	}

	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "give up after this long (0 = wait forever)")
	cmd.Flags().BoolVar(&opts.continuous, "continuous", false, "keep scanning after a match")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "print matches as JSON")
	cmd.Flags().IntVar(&opts.scanWidth, "scan-width", 0, "manual scan rectangle width in screen pixels")
	cmd.Flags().IntVar(&opts.scanHeight, "scan-height", 0, "manual scan rectangle height in screen pixels")
	cmd.Flags().IntVar(&opts.focusIntervalMs, "focus-interval-ms", 0, "delay between focus attempts (overrides config)")
	cmd.Flags().StringSliceVar(&opts.formats, "formats", nil, "barcode formats to look for, e.g. QR_CODE,EAN_13,PRODUCT")

	return cmd
}

func (o *scanOptions) validate() error {
	if o.timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", o.timeout)
	}
	if (o.scanWidth > 0) != (o.scanHeight > 0) || o.scanWidth < 0 || o.scanHeight < 0 {
		return fmt.Errorf("scan-width and scan-height must be set together and be positive")
	}
	if o.focusIntervalMs < 0 {
		return fmt.Errorf("focus-interval-ms must not be negative, got %d", o.focusIntervalMs)
	}
	return nil
}

// runScan starts the session and prints matches until one is found (or,
// in continuous mode, until ctx ends).
func runScan(ctx context.Context, cmd *cobra.Command, s *scanner, opts *scanOptions, cfg *config.Config) error {
	matches := make(chan store.Record, 16)
	unusable := make(chan error, 1)
	s.recorder.OnRecorded(func(rec store.Record) {
		select {
		case matches <- rec:
		default:
			debug.Warn("Dropping match %q, output is not keeping up", rec.Text)
		}
	})
	s.recorder.OnUnusable(func(err error) {
		select {
		case unusable <- err:
		default:
		}
	})

	if err := s.session.Start(surface(cfg)); err != nil {
		return fmt.Errorf("camera unusable: %w", err)
	}

	found := 0
	for {
		select {
		case rec := <-matches:
			found++
			if err := printMatch(cmd, rec, opts.jsonOutput); err != nil {
				return err
			}
			if !opts.continuous {
				return nil
			}
			s.session.RestartAfter(cfg.RescanDelay())

		case err := <-unusable:
			return fmt.Errorf("camera unusable: %w", err)

		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && found == 0 {
				return fmt.Errorf("%w within %s", ErrNoMatch, opts.timeout)
			}
			return nil
		}
	}
}

func printMatch(cmd *cobra.Command, rec store.Record, asJSON bool) error {
	if asJSON {
		return writeJSON(cmd, rec)
	}
	line := []string{rec.Format, rec.Text}
	if rec.ID != "" {
		line = append(line, rec.ID)
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), strings.Join(line, "\t"))
	return err
}
