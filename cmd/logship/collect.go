package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/logship/internal/auth"
	"github.com/loykin/logship/internal/collector"
	"github.com/loykin/logship/internal/collector/sink/factory"
	"github.com/loykin/logship/internal/logger"
	tlsx "github.com/loykin/logship/internal/tls"
)

func createCollectCommand(flags *CollectFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run the payload collector",
		Long: `Run an HTTP collector that accepts payloads shipped by agents and appends
them to a sink.

Sinks:
  memory://                         kept in process (testing)
  file:///dir                       one YYYY-MM-DD.txt file per day
  sqlite:///path.db                 received_payloads table
  postgres://user:pw@host/db        received_payloads table
  clickhouse://host:9000?table=t    MergeTree table
  opensearch://host:9200/index      one document per payload

Examples:
  logship collect --listen=:8080 --sink=file:///var/lib/logship
  logship collect --listen=:8080 --base=/ingest --sink=sqlite:///tmp/payloads.db
  logship collect --listen=:8443 --tls-dir=/etc/logship/tls --tls-auto`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			log, closer, err := logger.New(logger.Config{Level: "info", Format: logger.FormatText}, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()
			return runCollect(ctx, *flags, log)
		},
	}
	cmd.Flags().StringVar(&flags.Listen, "listen", ":8080", "address to listen on")
	cmd.Flags().StringVar(&flags.BasePath, "base", "", "base path of the ingest endpoint")
	cmd.Flags().StringVar(&flags.SinkDSN, "sink", "memory://", "sink DSN")
	cmd.Flags().StringVar(&flags.MetricsListen, "metrics-listen", "", "serve prometheus metrics on this address")
	cmd.Flags().StringSliceVar(&flags.Tokens, "token", nil, "accepted ingest token or bcrypt hash (repeatable)")
	cmd.Flags().StringVar(&flags.TLSCert, "tls-cert", "", "serve HTTPS with this certificate file")
	cmd.Flags().StringVar(&flags.TLSKey, "tls-key", "", "private key for --tls-cert")
	cmd.Flags().StringVar(&flags.TLSDir, "tls-dir", "", "directory holding tls.crt and tls.key")
	cmd.Flags().BoolVar(&flags.TLSAuto, "tls-auto", false, "generate a self-signed certificate in --tls-dir when missing")
	return cmd
}

func runCollect(ctx context.Context, flags CollectFlags, log *slog.Logger) error {
	s, err := factory.NewSinkFromDSN(flags.SinkDSN)
	if err != nil {
		return fmt.Errorf("open sink: %w", err)
	}
	defer func() { _ = s.Close() }()

	if flags.MetricsListen != "" {
		startMetrics(ctx, flags.MetricsListen, log)
	}

	tc, err := tlsx.Server(tlsx.Config{
		Enabled:      flags.TLSCert != "" || flags.TLSDir != "",
		CertFile:     flags.TLSCert,
		KeyFile:      flags.TLSKey,
		Dir:          flags.TLSDir,
		AutoGenerate: flags.TLSAuto,
	})
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}

	tokens, err := auth.NewTokens(flags.Tokens)
	if err != nil {
		return fmt.Errorf("tokens: %w", err)
	}

	srv := collector.NewServer(flags.Listen, flags.BasePath, s, tokens, log)
	srv.TLSConfig = tc
	errCh := make(chan error, 1)
	go func() {
		if tc != nil {
			errCh <- srv.ListenAndServeTLS("", "")
			return
		}
		errCh <- srv.ListenAndServe()
	}()
	log.Info("collector listening", "addr", flags.Listen, "base", flags.BasePath, "sink", flags.SinkDSN,
		"tls", tc != nil, "auth", tokens.Enabled())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}
