// Command trackrecd records track packets received over UDP.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"example.com/radarwire/internal/common"
	"example.com/radarwire/internal/config"
	"example.com/radarwire/internal/server"
)

func main() {
	configPath := flag.String("config", "config/trackrecd.yaml", "path to configuration file")
	listen := flag.String("listen", "", "UDP listen address (overrides config)")
	readTimeout := flag.Duration("read-timeout", 60*time.Second, "HTTP read timeout")
	writeTimeout := flag.Duration("write-timeout", 60*time.Second, "HTTP write timeout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		common.Fatalf("load config: %v", err)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		common.Fatalf("output dir: %v", err)
	}
	if err := common.SetupLogging(cfg.Logs); err != nil {
		common.Fatalf("setup logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, *readTimeout, *writeTimeout); err != nil {
		common.Errorf("%v", err)
		stop()
		os.Exit(1)
	}
	common.Logf("trackrecd stopped")
}

func run(ctx context.Context, cfg config.Config, readTimeout, writeTimeout time.Duration) error {
	conn, err := net.ListenPacket("udp", cfg.Listen)
	if err != nil {
		return err
	}
	local := unmap(conn.LocalAddr().(*net.UDPAddr).AddrPort())
	rec := newRecorder(cfg, local, nil)
	common.Logf("trackrecd listening on udp %s", conn.LocalAddr())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rec.serve(ctx, conn) })
	if cfg.RotateEvery > 0 {
		g.Go(func() error { return rec.runRotation(ctx, time.Second) })
	}

	if cfg.StatusAddr != "" {
		srv, err := server.NewServer(server.Options{
			OutputDir:  cfg.OutputDir,
			StorageDir: os.TempDir(),
			Recorder:   rec,
		})
		if err != nil {
			conn.Close()
			return err
		}
		defer srv.Close()
		httpServer := &http.Server{
			Addr:         cfg.StatusAddr,
			Handler:      server.NewRouter(srv),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		}
		g.Go(func() error {
			common.Logf("status on http %s", cfg.StatusAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	if cerr := rec.close(); err == nil {
		err = cerr
	}
	return err
}
