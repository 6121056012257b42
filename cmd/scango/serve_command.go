package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cjeanneret/scango/internal/debug"
	"github.com/cjeanneret/scango/internal/logic/capture"
	"github.com/cjeanneret/scango/internal/store"
	"github.com/cjeanneret/scango/internal/web"
)

const defaultWebPort = 8080

func newServeCommand(ctx *commandContext) *cobra.Command {
	port := &webPortFlag{val: defaultWebPort, defaultPort: defaultWebPort}
	var autoRescan bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Scan continuously behind a web control page",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig(cmd)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			broadcaster := web.NewStatusBroadcaster()
			debug.SetOutput(io.MultiWriter(cmd.ErrOrStderr(), web.BroadcastWriter(broadcaster)))

			s, err := newScanner(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			s.session.Coordinator().AddListener(func(prev, next capture.State) {
				broadcaster.BroadcastState(prev.String(), next.String())
			})
			s.recorder.OnRecorded(func(rec store.Record) {
				broadcaster.BroadcastMatch(rec.Text, rec)
				if autoRescan {
					s.session.RestartAfter(cfg.RescanDelay())
				}
			})
			s.recorder.OnUnusable(broadcaster.BroadcastError)

			var history web.History
			if s.store != nil {
				history = s.store
			}
			srv, err := web.NewServer(fmt.Sprintf(":%d", port.port()), broadcaster, s.session, history, cfg)
			if err != nil {
				return err
			}

			if err := s.session.Start(surface(cfg)); err != nil {
				return fmt.Errorf("camera unusable: %w", err)
			}
			return srv.Run(runCtx)
		},
	}

	addWebPortFlag(cmd.Flags(), port)
	cmd.Flags().BoolVar(&autoRescan, "auto-rescan", true, "restart scanning after each match (after pipeline.rescan_delay_ms)")
	return cmd
}

func addWebPortFlag(fs *pflag.FlagSet, p *webPortFlag) {
	fs.Var(p, "port", "web server port; --port alone uses the default")
	fs.Lookup("port").NoOptDefVal = strconv.Itoa(p.defaultPort)
}

// webPortFlag implements pflag.Value for --port: an empty value selects the
// default port.
type webPortFlag struct {
	val         int
	defaultPort int
}

var _ pflag.Value = (*webPortFlag)(nil)

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) Type() string { return "port" }

func (w *webPortFlag) port() int { return w.val }
