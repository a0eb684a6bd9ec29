package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"arenasync/client"
	"arenasync/config"
	"arenasync/server"
	"arenasync/transport"
)

// 入口：-mode=server 启动会话服务器，-mode=client 启动一个无界面的机器人客户端
func main() {
	var mode, cfgPath string
	flag.StringVar(&mode, "mode", "server", "run mode: server or client")
	flag.StringVar(&cfgPath, "config", "", "path to YAML config file (ARENA_* env vars override)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		panic(err)
	}
	if err := server.InitLogger(cfg.Logging); err != nil {
		panic(err)
	}
	defer server.SyncLogger()

	if _, err := maxprocs.Set(maxprocs.Logger(server.Log.Infof)); err != nil {
		server.Log.Warnw("set GOMAXPROCS", "err", err)
	}

	// 优雅退出（Ctrl+C）
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch mode {
	case "server":
		err = runServer(ctx, cfg)
	case "client":
		err = runClient(ctx, cfg)
	default:
		server.Log.Fatalw("unknown mode", "mode", mode)
	}
	if err != nil {
		server.Log.Errorw("exited with error", "mode", mode, "err", err)
		server.SyncLogger()
		os.Exit(1)
	}
}

func transportOptions(cfg config.ServerConfig) transport.Options {
	return transport.Options{
		SendQueue:    cfg.SendQueue,
		ReadLimit:    cfg.ReadLimit,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Logger:       server.Log,
	}
}

func runServer(ctx context.Context, cfg config.Config) error {
	// 端口被占用时直接退出，不进入主循环
	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		server.Log.Fatalw("failed to start server", "addr", cfg.Server.Addr, "err", err)
	}

	listener := transport.NewListener(cfg.Server.AcceptBacklog, transportOptions(cfg.Server))
	srv := server.New(listener, server.TimingFromConfig(cfg.Server), server.WithLogger(server.Log))
	admin := server.NewAdmin(srv)

	mux := http.NewServeMux()
	mux.Handle("/ws", listener)
	admin.Register(mux)
	httpSrv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		server.Log.Infow("session server listening", "addr", ln.Addr().String(), "instance", admin.Instance())
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		server.Log.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func runClient(ctx context.Context, cfg config.Config) error {
	input := client.OrbitInput{Radius: 5, Period: 4 * time.Second, Start: time.Now()}
	c := client.New(input, client.LogRenderer{Log: server.Log}, client.Options{
		TickInterval:   cfg.Client.TickInterval,
		ReportInterval: cfg.Client.ReportInterval,
		ReportDelay:    cfg.Client.ReportDelay,
		Transport:      transport.Options{Logger: server.Log},
		Logger:         server.Log,
	})

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := c.Connect(dialCtx, cfg.Client.URL); err != nil {
		return err
	}
	return c.Run(ctx)
}
