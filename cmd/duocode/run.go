package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/neboloop/duocode/internal/adapter"
	"github.com/neboloop/duocode/internal/approval"
	"github.com/neboloop/duocode/internal/completion"
	"github.com/neboloop/duocode/internal/config"
	"github.com/neboloop/duocode/internal/coordinator"
	"github.com/neboloop/duocode/internal/events"
	"github.com/neboloop/duocode/internal/httpapi"
	"github.com/neboloop/duocode/internal/logging"
	"github.com/neboloop/duocode/internal/mux"
	"github.com/neboloop/duocode/internal/parser"
	"github.com/neboloop/duocode/internal/record"
	"github.com/neboloop/duocode/internal/routing"
)

func newRunCommand() *cobra.Command {
	var configPath, envPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a debate session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd.Context(), configPath, envPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "duocode.yaml", "path to the session config file")
	cmd.Flags().StringVar(&envPath, "env", ".env", "path to a .env file (optional)")
	return cmd
}

func runSession(ctx context.Context, configPath, envPath string) error {
	cfg, err := config.Load(configPath, envPath)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	gw := mux.New(cfg.TmuxBin)
	baseAdapterCfg := adapter.Config{
		Cols:            cfg.Cols,
		Rows:            cfg.Rows,
		ScrollbackLines: cfg.ScrollbackLines,
		PollInterval:    cfg.PollInterval,
		StartDeadline:   cfg.StartDeadline,
		ResponseTimeout: cfg.ResponseTimeout,
		SlowCycle:       cfg.SlowCycle,
		SettleDelay:     cfg.SettleDelay,
	}

	adapterCfgA := baseAdapterCfg
	adapterCfgA.ReadyMatch = cfg.BackendA.ReadyMatch
	adapterCfgB := baseAdapterCfg
	adapterCfgB.ReadyMatch = cfg.BackendB.ReadyMatch

	adA := adapter.New("A", gw, parser.BackendA{}, append([]string{cfg.BackendA.Command}, cfg.BackendA.Args...), cfg.BackendA.Env, adapterCfgA)
	adB := adapter.New("B", gw, parser.BackendB{}, append([]string{cfg.BackendB.Command}, cfg.BackendB.Args...), cfg.BackendB.Env, adapterCfgB)

	backends := []*coordinator.Backend{
		{Role: record.RoleA, Adapter: adA, Completion: completion.New(adA)},
		{Role: record.RoleB, Adapter: adB, Completion: completion.New(adB)},
	}

	bus := events.NewSubject()
	approvals := approval.New()
	coord := coordinator.New(backends, bus, approvals)

	startCtx, cancelStart := context.WithTimeout(ctx, cfg.StartDeadline+5*time.Second)
	defer cancelStart()
	if err := coord.Start(startCtx); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	server := httpapi.New(bus, approvals, coord)
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: server.Router()}
	go func() {
		logging.Infof("[cmd] http listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Errorf("[cmd] http server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go runREPL(ctx, coord, done)

	select {
	case <-sigCh:
		logging.Info("[cmd] shutting down")
	case <-done:
	}

	_ = httpSrv.Shutdown(context.Background())
	coord.Close(context.Background())
	return nil
}

// runREPL reads one line per user turn from stdin until EOF.
func runREPL(ctx context.Context, coord *coordinator.Coordinator, done chan<- struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if line == "/clear" {
			coord.ClearHistory()
			continue
		}
		if err := coord.RouteMessage(ctx, routing.TargetNone, line); err != nil {
			if errors.Is(err, coordinator.ErrNoTarget) {
				fmt.Println("no target tagged; prefix the message with @cc or @g")
				continue
			}
			logging.Errorf("[cmd] turn failed: %v", err)
		}
	}
}
