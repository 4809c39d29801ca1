package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/parley/internal/api"
	"github.com/samcharles93/parley/internal/inference"
	"github.com/samcharles93/parley/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
	)

	flags := slices.Concat(commonModelFlags(), samplingFlags(), sessionFlags(), []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "listen address",
			Value:       "127.0.0.1:8080",
			Sources:     env("ADDR"),
			Destination: &addr,
		},
		&cli.DurationFlag{
			Name:        "read-timeout",
			Usage:       "read header timeout",
			Value:       30 * time.Second,
			Destination: &readTimeout,
		},
	})

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the chat session over HTTP",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			log := logger.FromContext(ctx)
			applyConfig(c, fileConfig)
			applyServeConfig(c, fileConfig, &addr)

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			env, err := openChatEnv(ctx, log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer func() { _ = env.Close() }()

			server := api.NewServer(api.Config{
				Engine:    env.current(),
				Reload: func() (inference.Engine, error) {
					s, err := env.healthy()
					if err != nil {
						return nil, err
					}
					return s, nil
				},
				Model:     modelDisplayName(modelsPath, env.model),
				Logger:    log,
				AfterTurn: env.afterTurn,
				OnClear:   env.forget,
			})
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			log.Info("starting server", "address", addr, "model", env.model, "template", env.tmpl.Name)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			// Running generations would hold graceful shutdown open.
			go func() {
				<-ctx.Done()
				env.current().Stop()
			}()
			if err := sc.Start(ctx, e); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			log.Info("server stopped")
			return nil
		},
	}
}
