// Command agenticd serves the agentic chat loop over WebSocket.
//
// Configuration is read from the YAML file named by AGENTIC_CONFIG; without
// one the built-in defaults apply. A .env file (or the file named by
// AGENTIC_ENV_FILE) is loaded first so that ${VAR} references in the YAML
// resolve against it.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	agenticchat "github.com/shapeshift/agentic-chat"
	"github.com/shapeshift/agentic-chat/artifact"
	"github.com/shapeshift/agentic-chat/checkpoint"
	"github.com/shapeshift/agentic-chat/config"
	"github.com/shapeshift/agentic-chat/core"
	"github.com/shapeshift/agentic-chat/logging"
	"github.com/shapeshift/agentic-chat/model"
	"github.com/shapeshift/agentic-chat/model/anthropic"
	"github.com/shapeshift/agentic-chat/model/gemini"
	"github.com/shapeshift/agentic-chat/model/openai"
	"github.com/shapeshift/agentic-chat/runner"
	"github.com/shapeshift/agentic-chat/tool"
	"github.com/shapeshift/agentic-chat/tools/bebop"
	"github.com/shapeshift/agentic-chat/tools/evm"
	"github.com/shapeshift/agentic-chat/tools/portals"
	"github.com/shapeshift/agentic-chat/tools/prompt"
	"github.com/shapeshift/agentic-chat/tools/units"
	"github.com/shapeshift/agentic-chat/transport/amqp"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("agenticd: %v", err)
	}
}

func run(ctx context.Context) error {
	if err := loadEnv(os.Getenv("AGENTIC_ENV_FILE")); err != nil {
		return err
	}

	cfg, err := loadConfig(os.Getenv("AGENTIC_CONFIG"))
	if err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.Logging.LoggerConfig(os.Stderr)).WithComponent("agenticd")

	m, err := newModel(ctx, cfg.Model)
	if err != nil {
		return err
	}

	tools, cleanup, err := buildTools(cfg.Tools)
	if err != nil {
		return err
	}
	defer cleanup()

	store, err := checkpoint.Open(ctx, cfg.Checkpoint)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	defer store.Close()

	var artifacts core.ArtifactStore = artifact.NewInMemoryStore()
	if rs, ok := store.(*checkpoint.RedisStore); ok {
		artifacts = artifact.NewRedisStore(rs.Client(), "", cfg.Checkpoint.Redis.TTL)
	}

	var sinks []runner.Sink
	if cfg.AMQP.URL != "" {
		pub, err := amqp.NewPublisher(cfg.AMQP)
		if err != nil {
			return fmt.Errorf("connect amqp: %w", err)
		}
		defer pub.Close()
		sinks = append(sinks, pub)
		logger.Info("amqp.sink.enabled", "exchange", pub.Exchange())
	}

	chat, err := agenticchat.New(m, func(o *agenticchat.Options) {
		o.Tools = tools
		o.Instruction = prompt.Instruction()
		o.Loop = cfg.Loop.Options()
		o.Checkpoints = store
		o.Artifacts = artifacts
		o.Sinks = sinks
		o.Logger = logger
	})
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.Path, chat.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server.listening", "address", cfg.Server.Address, "path", cfg.Server.Path,
			"provider", cfg.Model.Provider, "model", m.Info().Name, "tools", len(tools))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok && err != nil {
			return err
		}
	}

	logger.Info("server.shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server.shutdown.failed", "error", err)
	}
	return chat.Shutdown(shutdownCtx)
}

// loadEnv loads path, or ./.env when path is empty. A missing default file
// is not an error.
func loadEnv(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func newModel(ctx context.Context, cfg config.ModelConfig) (model.Model, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return openai.NewModel(func(o *openai.Options) {
			o.Model = cfg.Name
			o.Temperature = cfg.Temperature
			o.MaxCompletionTokens = cfg.MaxTokens
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
		}), nil
	case config.ProviderAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.Model = anthropicsdk.Model(cfg.Name)
			o.Temperature = cfg.Temperature
			o.MaxTokens = cfg.MaxTokens
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
		}), nil
	case config.ProviderGemini:
		return gemini.New(ctx, func(o *gemini.Options) {
			o.Model = cfg.Name
			o.Temperature = cfg.Temperature
			o.APIKey = cfg.APIKey
		})
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}

// buildTools registers the unit converters and the artifact reader
// unconditionally and every integration whose credentials are configured.
func buildTools(cfg config.ToolsConfig) ([]tool.Tool, func(), error) {
	tools := append(units.Tools(), tool.NewArtifactTool())
	cleanup := func() {}

	if cfg.Portals.APIKey != "" && cfg.Portals.BaseURL != "" {
		tools = append(tools, portals.NewSearchTool(portals.NewClient(cfg.Portals, nil)))
	}
	if cfg.Bebop.APIKey != "" {
		tools = append(tools, bebop.NewRateTool(bebop.NewClient(cfg.Bebop, nil)))
	}
	if cfg.EVM.Address != "" {
		kit, err := evm.NewKit(cfg.EVM)
		if err != nil {
			return nil, cleanup, fmt.Errorf("evm tools: %w", err)
		}
		tools = append(tools, kit.Tools()...)
		cleanup = kit.Close
	}
	return tools, cleanup, nil
}
