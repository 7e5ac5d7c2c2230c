package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"netforge/internal/server"
	"netforge/pkg/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, event stream and optional browser interception",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	svc, err := api.NewService(cfg, log)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		_ = svc.Close()
		return fmt.Errorf("start traffic source: %w", err)
	}

	srv := server.New(svc, log)
	if _, err := srv.Start(cfg.Server.Listen); err != nil {
		_ = svc.Close()
		return err
	}
	log.Info("netforge 已启动，按 Ctrl+C 退出", "listen", cfg.Server.Listen, "cdp", cfg.CDP.Enabled)

	<-ctx.Done()
	log.Info("收到退出信号，开始优雅关闭")
	return shutdown(srv, svc)
}

func shutdown(srv *server.Server, svc api.Service) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	done := make(chan error, 1)
	go func() { done <- svc.Close() }()
	select {
	case err := <-done:
		if err != nil {
			errs = append(errs, fmt.Errorf("service close: %w", err))
		}
	case <-ctx.Done():
		errs = append(errs, errors.New("service close timed out"))
	}

	if len(errs) > 0 {
		log.Error("关闭过程中出现错误", "count", len(errs))
		return errors.Join(errs...)
	}
	log.Info("netforge 已停止")
	return nil
}
