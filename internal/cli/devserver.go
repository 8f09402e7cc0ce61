package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fruitsalade/filetree/internal/devserver"
	"github.com/fruitsalade/filetree/internal/logging"
	"github.com/fruitsalade/filetree/internal/metrics"
)

func newDevserverCmd(a *app) *cobra.Command {
	var (
		listen string
		seed   string
	)

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run an in-memory backend for local development",
		Long: `Serve the tree and upload endpoints from memory. Nothing is persisted;
--seed copies a local directory into the tree at startup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen == "" {
				listen = a.cfg.ListenAddr
			}

			srv := devserver.New(devserver.Config{
				Version:          a.version,
				UploadExtensions: a.cfg.UploadExtensions,
			})
			if seed != "" {
				n, err := seedFromDir(srv, seed)
				if err != nil {
					return err
				}
				logging.Info("seeded tree", zap.String("dir", seed), zap.Int("files", n))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, listen, a.cfg.MetricsAddr, srv.Handler())
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides listen_addr)")
	cmd.Flags().StringVar(&seed, "seed", "", "Local directory to load into the tree at startup")
	return cmd
}

// serve runs the backend, and a separate metrics listener when
// metricsAddr is set, until ctx is cancelled.
func serve(ctx context.Context, addr, metricsAddr string, handler http.Handler) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var metricsServer *http.Server
	if metricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    metricsAddr,
			Handler: metrics.Handler(),
		}
		go func() {
			logging.Info("metrics server listening", zap.String("addr", metricsAddr))
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				logging.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("devserver listening", zap.String("addr", addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if metricsServer != nil {
			metricsServer.Close()
		}
		return fmt.Errorf("devserver: %w", err)
	case <-ctx.Done():
	}

	logging.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// seedFromDir stores every regular file below dir in srv, keyed by its
// slash-separated path relative to dir.
func seedFromDir(srv *devserver.Server, dir string) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		if err := srv.Seed(filepath.ToSlash(rel), data); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("seed from %s: %w", dir, err)
	}
	return count, nil
}
