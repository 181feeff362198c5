package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"autodelta/internal/httpapi"
)

func serveCmd(configPath *string) *cobra.Command {
	var autostart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the control API and live log stream",
		Long: `Serve the HTTP control API on server.addr. The engine is started and
stopped through POST /api/v1/engine/start|stop unless --autostart is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			api := httpapi.New(httpapi.Options{
				Cfg:    cfg,
				Bus:    a.bus,
				Store:  a.store,
				Engine: a.engine,
			})
			server := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           api.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			serverErr := make(chan error, 1)
			go func() {
				serverErr <- server.ListenAndServe()
			}()
			a.bus.Log("info", "控制接口已启动", map[string]any{"addr": cfg.Server.Addr})

			if autostart {
				if err := a.engine.Start(ctx); err != nil {
					a.bus.Log("error", "自动启动失败", map[string]any{"error": err.Error()})
				}
			}

			select {
			case <-ctx.Done():
				a.bus.Log("info", "收到退出信号", nil)
			case err := <-serverErr:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = a.engine.Stop(shutdownCtx)
			return server.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&autostart, "autostart", false, "start the engine immediately")
	return cmd
}
