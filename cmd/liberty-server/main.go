// Command liberty-server runs the conversation pipeline HTTP server.
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
	"go.uber.org/zap"

	"github.com/liberty/conversation-pipeline/internal/assistant/openai"
	"github.com/liberty/conversation-pipeline/internal/config"
	"github.com/liberty/conversation-pipeline/internal/ledger"
	"github.com/liberty/conversation-pipeline/internal/orchestrator"
	"github.com/liberty/conversation-pipeline/internal/quota"
	"github.com/liberty/conversation-pipeline/internal/server"
	"github.com/liberty/conversation-pipeline/providers/tts"
	"github.com/liberty/conversation-pipeline/providers/tts/elevenlabs"
	"github.com/liberty/conversation-pipeline/providers/tts/google"
	"github.com/liberty/conversation-pipeline/providers/tts/polly"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "liberty-server",
		Short:         "Conversation pipeline server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err := cfg.NewLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return run(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink, err := buildSink(cfg, logger)
	if err != nil {
		return err
	}
	recorder := ledger.NewRecorder(sink, ledger.RecorderConfig{
		QueueCapacity: cfg.Ledger.QueueCapacity,
		WriteTimeout:  cfg.Ledger.WriteTimeout,
	}, logger)
	defer recorder.Close()

	client, err := openai.NewAdapter(openai.Config{
		APIKey:      cfg.Assistant.APIKey,
		Endpoint:    cfg.Assistant.Endpoint,
		AssistantID: cfg.Assistant.AssistantID,
		Timeout:     cfg.Assistant.Timeout,
	}, nil)
	if err != nil {
		return fmt.Errorf("assistant adapter: %w", err)
	}

	guard := quota.NewGuard(sink, quota.Config{}, logger)
	orch := orchestrator.New(client, guard, recorder, orchestrator.Config{
		PollInterval:    cfg.Orchestrator.PollInterval,
		PollTimeout:     cfg.Orchestrator.PollTimeout,
		DeltaChunkRunes: cfg.Orchestrator.DeltaChunkRunes,
	}, logger)

	standard, err := buildProvider(cfg.TTS.Standard)
	if err != nil {
		return fmt.Errorf("standard tts provider: %w", err)
	}
	premium, err := buildProvider(cfg.TTS.Premium)
	if err != nil {
		logger.Warn("premium tts provider unavailable, premium voice falls back to standard", zap.Error(err))
		premium = nil
	}

	srv := server.New(server.Config{Addr: cfg.Server.Addr}, orch, standard, premium, recorder, logger)
	httpSrv := &http.Server{
		Addr:              srv.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", httpSrv.Addr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func buildSink(cfg *config.Config, logger *zap.Logger) (ledger.Sink, error) {
	if cfg.Ledger.BaseURL == "" {
		logger.Warn("no usage ledger configured, quota checks fail open with default limits")
		return ledger.Disabled{}, nil
	}
	return ledger.NewHTTPSink(ledger.HTTPSinkConfig{
		BaseURL: cfg.Ledger.BaseURL,
		APIKey:  cfg.Ledger.APIKey,
	})
}

func buildProvider(name string) (tts.Provider, error) {
	switch name {
	case "polly":
		return polly.New(polly.ConfigFromEnv()), nil
	case "elevenlabs":
		return elevenlabs.New(elevenlabs.ConfigFromEnv())
	case "google":
		return google.New(google.ConfigFromEnv())
	case "", "none":
		return nil, fmt.Errorf("no provider configured")
	default:
		return nil, fmt.Errorf("unknown tts provider %q", name)
	}
}
