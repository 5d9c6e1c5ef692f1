package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/earthcopilot/mapview/internal/server"
	"github.com/earthcopilot/mapview/internal/session"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the map session server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		tracker := initTracker()
		defer tracker.Close() //nolint:errcheck

		bc := initBackend()
		cache := initCache(bc)

		opts, err := session.OptionsFromConfig(cfg)
		if err != nil {
			return err
		}

		srv := server.New(server.Deps{
			Sessions: session.Deps{
				Backend: bc,
				Fetcher: cache,
				History: st,
				Tracker: tracker,
			},
			Datasets: bc,
			Cache:    cache,
			History:  st,
		}, opts, server.Options{AllowedOrigins: cfg.Server.AllowedOrigins})
		defer srv.Close()

		go srv.Manager().Run(ctx, time.Minute)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.String("backend", cfg.Backend.BaseURL))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
