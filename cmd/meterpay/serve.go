package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/meterpay/meterpay/bootstrap"
	"github.com/meterpay/meterpay/config"
	"github.com/meterpay/meterpay/web"
)

var serveHotReload bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the engine and admin API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveHotReload, "hot-reload", true, "watch the config file for changes")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	app, err := bootstrap.New(cfg)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serveHotReload {
		holder, err := config.NewHolder(cfgFile, app.Logger)
		if err != nil {
			app.Logger.Warn().Err(err).Msg("config hot reload unavailable")
		} else {
			defer holder.Close()
			holder.OnChange(app.ApplyConfig)
			if err := holder.Watch(); err != nil {
				app.Logger.Warn().Err(err).Msg("config watch failed")
			}
		}
	}

	if err := app.Start(ctx); err != nil {
		return err
	}

	handler := web.NewHandler(web.Deps{
		Engine:     app.Engine,
		Hasher:     app.Hasher,
		APIKeyHash: app.APIKeyHash(),
		MetricsOn:  cfg.Metrics.Enabled,
		Logger:     app.Logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		app.Logger.Info().Str("addr", srv.Addr).Msg("admin api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	app.Logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
