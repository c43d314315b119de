// Command voxbridge runs the conversational session gateway: it bridges
// telephony call legs onto the legacy IVR flow with streaming speech
// recognition, prompt synthesis and an exactly-once transaction bridge.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/voxbridge/voxbridge/pkg/core/flow"
	"github.com/voxbridge/voxbridge/pkg/core/session"
	"github.com/voxbridge/voxbridge/pkg/core/speech"
	"github.com/voxbridge/voxbridge/pkg/core/txn"
	"github.com/voxbridge/voxbridge/pkg/gateway/audit"
	"github.com/voxbridge/voxbridge/pkg/gateway/config"
	"github.com/voxbridge/voxbridge/pkg/gateway/metrics"
	"github.com/voxbridge/voxbridge/pkg/gateway/server"
)

func buildFlow(cfg config.Config) (flow.Adapter, error) {
	if cfg.FlowGraphPath == "" {
		return flow.NewGraphAdapter(flow.DemoGraph()), nil
	}
	data, err := os.ReadFile(cfg.FlowGraphPath)
	if err != nil {
		return nil, fmt.Errorf("read flow graph: %w", err)
	}
	g, err := flow.ParseGraph(data)
	if err != nil {
		return nil, fmt.Errorf("parse flow graph %s: %w", cfg.FlowGraphPath, err)
	}
	return flow.NewGraphAdapter(g), nil
}

func buildStore(cfg config.Config) (txn.Store, error) {
	switch cfg.IdempotencyStore {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		return txn.NewRedisStore(client, cfg.IdempotencyTTL), nil
	default:
		return txn.NewMemoryStore(), nil
	}
}

func buildBridge(cfg config.Config, store txn.Store, logger *slog.Logger) *txn.Bridge {
	var executor txn.Executor
	if cfg.BackendURL == "" {
		logger.Warn("no transaction backend configured, using in-process demo backend")
		executor = txn.NewDemoBackend()
	} else {
		executor = txn.NewHTTPExecutor(cfg.BackendURL, cfg.BackendTimeout)
	}

	policy := txn.DefaultRetryPolicy()
	if cfg.TxnRetryAttempts > 0 {
		policy.MaxAttempts = cfg.TxnRetryAttempts
	}
	if cfg.TxnRetryBaseDelay > 0 {
		policy.BaseDelay = cfg.TxnRetryBaseDelay
	}

	return txn.NewBridge(executor, store, policy, cfg.TransactionDeadline, logger)
}

func buildProviders(cfg config.Config, logger *slog.Logger) session.Providers {
	p := session.Providers{}

	if cfg.STTEndpoint != "" {
		p.Recognizer = speech.NewWSRecognizer(cfg.STTEndpoint, cfg.STTAPIKey)
		switch cfg.Classifier {
		case config.ClassifierHTTP:
			p.Classifier = speech.NewHTTPClassifier(cfg.NLUEndpoint, cfg.NLUAPIKey, cfg.NLUTimeout)
		default:
			p.Classifier = speech.NewRuleClassifier()
		}
	} else {
		logger.Warn("no STT endpoint configured, running DTMF-only")
	}

	if cfg.TTSEndpoint != "" {
		p.Synthesizer = speech.NewHTTPSynthesizer(cfg.TTSEndpoint, cfg.TTSAPIKey, cfg.NLUTimeout)
	} else {
		p.Synthesizer = &speech.ToneSynthesizer{}
	}
	return p
}

func buildAudit(ctx context.Context, cfg config.Config) (audit.Sink, error) {
	if cfg.AuditSink == config.StorePostgres {
		return audit.NewPostgresSink(ctx, cfg.PostgresDSN)
	}
	return audit.NewMemorySink(cfg.HistoryLimit), nil
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	flowAdapter, err := buildFlow(cfg)
	if err != nil {
		return err
	}

	store, err := buildStore(cfg)
	if err != nil {
		return err
	}

	auditSink, err := buildAudit(ctx, cfg)
	if err != nil {
		return fmt.Errorf("audit sink: %w", err)
	}
	defer auditSink.Close()

	srv := server.New(cfg, server.Deps{
		Flow:      flowAdapter,
		Bridge:    buildBridge(cfg, store, logger),
		Providers: buildProviders(cfg, logger),
		Audit:     auditSink,
		Metrics:   metrics.New("voxbridge"),
	}, logger)

	logger.Info("starting gateway",
		"addr", cfg.Addr,
		"stt", cfg.STTEndpoint != "",
		"backend", cfg.BackendURL != "",
		"idempotency_store", cfg.IdempotencyStore,
		"audit_sink", cfg.AuditSink,
	)

	return srv.ListenAndServe(ctx)
}

func runMain(stderr io.Writer) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(stderr, "voxbridge: load .env: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		fmt.Fprintf(stderr, "voxbridge: %v\n", err)
		return 1
	}
	logger.Info("gateway stopped")
	return 0
}

func main() {
	os.Exit(runMain(os.Stderr))
}
