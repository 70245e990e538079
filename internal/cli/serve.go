package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"nhooyr.io/websocket"

	"github.com/c3founder/roampdf/internal/activation"
	"github.com/c3founder/roampdf/internal/channel"
	"github.com/c3founder/roampdf/internal/config"
	"github.com/c3founder/roampdf/internal/engine"
	"github.com/c3founder/roampdf/internal/idgen"
	"github.com/c3founder/roampdf/internal/outline"
	"github.com/c3founder/roampdf/internal/watcher"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Database string
	Config   string
	Listen   string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the highlight synchronization engine",
		Long: `Start the single-writer synchronization engine and the host API.

Annotation surfaces (PDF viewers) connect over websockets at /surface,
identified by the document they view and the outline node embedding it.
The outline host reports node removals and requests sorting over plain
HTTP endpoints.

Example:
  roampdf serve --db ./outline.db
  roampdf serve --db ./outline.db --config ./roampdf.yaml --listen :8731 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the outline SQLite database (required)")
	cmd.Flags().StringVar(&opts.Config, "config", "", "path to the YAML configuration file")
	cmd.Flags().StringVar(&opts.Listen, "listen", ":8731", "host API listen address")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	slog.Info("opening outline database", "path", opts.Database)
	st, err := outline.OpenSQLite(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open outline database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing outline database", "error", closeErr)
		}
	}()

	eng := engine.New(st, cfg)
	watch := watcher.New(eng, st, cfg)
	sched := activation.New(eng, st, cfg)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	srv := &http.Server{
		Addr:    opts.Listen,
		Handler: hostMux(ctx, eng, watch, sched),
	}
	go func() {
		slog.Info("host API listening", "addr", opts.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("host API failed", "error", err)
			cancel()
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	fmt.Fprintln(cmd.OutOrStdout(), "Engine started. Press Ctrl-C to stop.")
	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "engine error", err)
	}
	slog.Info("engine stopped gracefully")
	return nil
}

// hostMux wires the websocket surface endpoint and the outline host
// notifications.
func hostMux(ctx context.Context, eng *engine.Engine, watch *watcher.Watcher, sched *activation.Scheduler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /surface", func(w http.ResponseWriter, r *http.Request) {
		source := r.URL.Query().Get("source")
		owner := r.URL.Query().Get("owner")
		if source == "" || owner == "" {
			http.Error(w, "source and owner query parameters are required", http.StatusBadRequest)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			slog.Warn("surface accept failed", "error", err)
			return
		}
		serveSurface(ctx, eng, conn, source, owner)
	})

	mux.HandleFunc("POST /removed/display", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID   string `json:"id"`
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
			http.Error(w, "id and text are required", http.StatusBadRequest)
			return
		}
		watch.ObserveRemovedDisplay(req.ID, req.Text)
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("POST /removed/surface", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Owner  string `json:"owner"`
			Source string `json:"source"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Owner == "" || req.Source == "" {
			http.Error(w, "owner and source are required", http.StatusBadRequest)
			return
		}
		watch.ObserveRemovedSurface(req.Owner, req.Source)
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("POST /sort", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Container string `json:"container"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Container == "" {
			http.Error(w, "container is required", http.StatusBadRequest)
			return
		}
		sched.RequestSort(req.Container)
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("POST /jump", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Display string `json:"display"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Display == "" {
			http.Error(w, "display is required", http.StatusBadRequest)
			return
		}
		sched.Jump(req.Display)
		w.WriteHeader(http.StatusAccepted)
	})

	return mux
}

// serveSurface owns one websocket connection for its whole lifetime.
func serveSurface(ctx context.Context, eng *engine.Engine, conn *websocket.Conn, source, owner string) {
	ch := channel.NewWebSocket(conn)
	instance := idgen.Instance()
	log := slog.With("instance", instance, "source", source)

	eng.Attach(engine.Surface{Instance: instance, Source: source, OwnerID: owner, Sender: ch})
	log.Info("surface connected")

	for {
		msg, err := ch.Read(ctx)
		if err != nil {
			// Transport gone or the peer sent garbage; either way the
			// connection is done.
			log.Info("surface disconnected", "reason", err)
			break
		}
		eng.Handle(instance, msg)
	}

	eng.Detach(instance)
	_ = ch.Close()
}
