package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rideline/ridectl/internal/simulator"
)

func newSimulateCmd() *cobra.Command {
	var (
		addr string
		opts simulator.Options
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run an in-memory ride-hailing backend for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			gin.SetMode(gin.ReleaseMode)
			sim := simulator.New(opts, a.log.Named("simulator"))
			srv := &http.Server{
				Addr:              addr,
				Handler:           sim.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.log.Info("simulator starting", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
			}

			a.log.Info("shutting down simulator...")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				a.log.Error("simulator forced to shutdown", zap.Error(err))
				return err
			}
			a.log.Info("simulator exited")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&opts.OTP, "otp", "", "code every signup receives")
	cmd.Flags().StringVar(&opts.Secret, "secret", "", "token signing secret")
	cmd.Flags().DurationVar(&opts.TokenTTL, "token-ttl", 0, "access token lifetime")
	return cmd
}
