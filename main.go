package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/lguibr/rpcactor/sample"
	"github.com/lguibr/rpcactor/server"
	"github.com/lguibr/rpcactor/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg := utils.DefaultConfig()
	if configPath != "" {
		loaded, err := utils.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	logger, err := utils.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	scope, closer := utils.NewRootScope(cfg, nil)
	defer closer.Close()

	host := server.New(sample.New,
		server.WithConfig(cfg),
		server.WithLogger(logger),
		server.WithScope(scope))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/", host)
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	grpcServer := grpc.NewServer()
	server.RegisterGRPC(grpcServer, host)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if cfg.GRPCEnabled() {
		g.Go(func() error {
			lis, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				return fmt.Errorf("grpc listen: %w", err)
			}
			logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	} else {
		logger.Info("grpc listener disabled")
	}
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		host.Shutdown(cfg.ShutdownTimeout)
		grpcServer.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
