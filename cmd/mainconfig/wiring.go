package mainconfig

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/lanebird/inbox-ai-platform/internal/audit"
	appconfig "github.com/lanebird/inbox-ai-platform/internal/config"
	"github.com/lanebird/inbox-ai-platform/internal/notify"
	"github.com/lanebird/inbox-ai-platform/internal/observability/metrics"
	"github.com/lanebird/inbox-ai-platform/internal/queue"
	"github.com/lanebird/inbox-ai-platform/internal/triage"
	"github.com/lanebird/inbox-ai-platform/internal/workspace"
	"github.com/lanebird/inbox-ai-platform/pkg/logging"
)

// Deps is the wired dependency graph shared by the API, the worker
// binary, and the lambda entrypoint.
type Deps struct {
	Pool          *pgxpool.Pool
	DB            *sql.DB
	ClassifyQueue queue.Client
	DraftQueue    queue.Client
	DeadLetters   audit.DeadLetterStore
	Auditor       *audit.Service
	Conversations *triage.PGConversationStore
	Messages      *triage.PGMessageStore
	Rules         *triage.PGRuleStore
	Identities    *triage.PGIdentityStore
	Workspaces    workspace.Provider
	Cache         *workspace.CachedProvider
	Metrics       *metrics.TriageMetrics
	Worker        *triage.Worker

	closers []func()
}

// Close releases pools and clients opened during wiring.
func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// Build wires the whole triage pipeline from configuration. The caller
// owns the returned Deps and must Close them on shutdown.
func Build(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*Deps, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("mainconfig: DATABASE_URL is required")
	}

	d := &Deps{}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("mainconfig: create pgx pool: %w", err)
	}
	d.Pool = pool
	d.closers = append(d.closers, pool.Close)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("mainconfig: open audit db: %w", err)
	}
	d.DB = db
	d.closers = append(d.closers, func() { _ = db.Close() })

	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("mainconfig: load aws config: %w", err)
	}

	if cfg.UseMemoryQueue {
		d.ClassifyQueue = queue.NewMemoryQueue()
		d.DraftQueue = queue.NewMemoryQueue()
	} else {
		sqsClient := sqs.NewFromConfig(awsCfg)
		d.ClassifyQueue = queue.NewSQSQueue(sqsClient, cfg.ClassifyQueueURL)
		d.DraftQueue = queue.NewSQSQueue(sqsClient, cfg.DraftQueueURL)
	}

	if cfg.UseDynamoDeadLetters {
		d.DeadLetters = audit.NewDynamoDeadLetterStore(dynamodb.NewFromConfig(awsCfg), cfg.DeadLetterTable, logger)
	} else {
		d.DeadLetters = audit.NewPGDeadLetterStore(pool)
	}

	d.Auditor = audit.NewService(db)
	d.Conversations = triage.NewPGConversationStore(pool)
	d.Messages = triage.NewPGMessageStore(pool)
	d.Rules = triage.NewPGRuleStore(pool)
	d.Identities = triage.NewPGIdentityStore(pool)

	store := workspace.NewStore(pool)
	d.Workspaces = store
	if cfg.RedisAddr != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient := redis.NewClient(opts)
		d.closers = append(d.closers, func() { _ = redisClient.Close() })
		d.Cache = workspace.NewCachedProvider(store, redisClient, cfg.WorkspaceCacheTTL, logger)
		d.Workspaces = d.Cache
	}

	d.Metrics = metrics.NewTriageMetrics(nil)

	oracle, closeOracle, err := buildOracle(ctx, cfg, awsCfg)
	if err != nil {
		d.Close()
		return nil, err
	}
	if closeOracle != nil {
		d.closers = append(d.closers, closeOracle)
	}

	archive := audit.NewArchive(s3.NewFromConfig(awsCfg), cfg.DeadLetterBucket, logger)
	alerts := notify.NewService(buildAlertSender(cfg, awsCfg, logger), cfg.AlertOperatorEmail, logger)

	mutator := triage.NewMutator(d.Conversations, d.Messages, d.Identities, d.DraftQueue, d.Metrics, logger)
	d.Worker = triage.NewWorker(
		d.ClassifyQueue,
		mutator,
		d.Conversations,
		d.Messages,
		d.Rules,
		d.Workspaces,
		oracle,
		logger,
		triage.WithWorkerCount(cfg.WorkerCount),
		triage.WithReceiveWaitSeconds(cfg.QueueWaitSeconds),
		triage.WithReceiveBatchSize(cfg.QueueBatchSize),
		triage.WithVisibilityTimeout(cfg.QueueVisibility),
		triage.WithPassBudget(cfg.WorkerPassBudget),
		triage.WithMaxAttempts(cfg.MaxDeliveryAttempts),
		triage.WithOracleTimeout(cfg.OracleTimeout),
		triage.WithOracleBatchSize(cfg.OracleBatchSize),
		triage.WithConfidenceFloor(cfg.ConfidenceFloor),
		triage.WithMetrics(d.Metrics),
		triage.WithDeadLetterStore(d.DeadLetters),
		triage.WithArchive(archive),
		triage.WithAlerts(alerts),
		triage.WithAuditor(d.Auditor),
	)

	return d, nil
}

func buildOracle(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config) (triage.Oracle, func(), error) {
	switch cfg.OracleProvider {
	case "bedrock":
		if cfg.BedrockModelID == "" {
			return nil, nil, fmt.Errorf("mainconfig: BEDROCK_MODEL_ID is required for the bedrock oracle")
		}
		client := triage.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg))
		return triage.NewLLMOracle(client, "bedrock", cfg.BedrockModelID,
			triage.WithOracleMaxTokens(int32(cfg.OracleMaxTokens)),
			triage.WithOracleTemperature(float32(cfg.OracleTemperature)),
		), nil, nil
	case "gemini", "":
		if cfg.GeminiAPIKey == "" {
			return nil, nil, fmt.Errorf("mainconfig: GEMINI_API_KEY is required for the gemini oracle")
		}
		client, err := triage.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, nil, fmt.Errorf("mainconfig: create gemini client: %w", err)
		}
		return triage.NewLLMOracle(client, "gemini", cfg.GeminiModelID,
			triage.WithOracleMaxTokens(int32(cfg.OracleMaxTokens)),
			triage.WithOracleTemperature(float32(cfg.OracleTemperature)),
		), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("mainconfig: unknown oracle provider %q", cfg.OracleProvider)
	}
}

func buildAlertSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) notify.EmailSender {
	switch cfg.EmailProvider {
	case "sendgrid":
		if cfg.SendGridAPIKey == "" {
			return nil
		}
		return notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.AlertFromEmail,
			FromName:  cfg.AlertFromName,
		}, logger)
	case "ses", "":
		if cfg.AlertFromEmail == "" {
			return nil
		}
		return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.AlertFromEmail,
			FromName:  cfg.AlertFromName,
		}, logger)
	default:
		return nil
	}
}
