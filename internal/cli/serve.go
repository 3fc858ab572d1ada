package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server and the heartbeat scheduler",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	addr := a.cfg.ListenAddr()
	httpServer := &http.Server{
		Addr:    addr,
		Handler: a.httpServer(),
	}

	// Heartbeat scheduler. The first cycle runs shortly after boot so a
	// restarted service catches up without waiting a full interval.
	hbCtx, stopHeartbeat := context.WithCancel(context.Background())
	go func() {
		timer := time.NewTimer(time.Minute)
		defer timer.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-timer.C:
			}
			if _, err := a.runner.Run(hbCtx, ""); err != nil {
				a.log.Errorw("heartbeat cycle failed", "error", err)
			}
			timer.Reset(a.cfg.Heartbeat.Interval.Std())
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		a.log.Infow("steward serving", "addr", addr, "db", a.db.Path)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Errorw("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	a.log.Info("shutting down")
	stopHeartbeat()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}
