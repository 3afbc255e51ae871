// Command orchestrator runs the HTTP webhook front-end and the background
// worker pool in one process (spec §1/§5: one deployable, an HTTP intake
// surface plus a pool of workers driving Runs to completion).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	bedrockruntime "github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"goa.design/clue/log"

	"github.com/taskreactor/orchestrator/branch"
	"github.com/taskreactor/orchestrator/config"
	ledgerMongostore "github.com/taskreactor/orchestrator/domain/ledger/mongostore"
	reactivationPgstore "github.com/taskreactor/orchestrator/domain/reactivation/pgstore"
	runPgstore "github.com/taskreactor/orchestrator/domain/run/pgstore"
	taskPgstore "github.com/taskreactor/orchestrator/domain/task/pgstore"
	validationPgstore "github.com/taskreactor/orchestrator/domain/validation/pgstore"
	webhookeventPgstore "github.com/taskreactor/orchestrator/domain/webhookevent/pgstore"
	"github.com/taskreactor/orchestrator/external/llm"
	"github.com/taskreactor/orchestrator/external/llm/anthropic"
	"github.com/taskreactor/orchestrator/external/llm/bedrock"
	"github.com/taskreactor/orchestrator/external/llm/composite"
	"github.com/taskreactor/orchestrator/external/llm/openai"
	"github.com/taskreactor/orchestrator/external/messaging/slackmsg"
	"github.com/taskreactor/orchestrator/external/ticket/graphql"
	"github.com/taskreactor/orchestrator/gate"
	"github.com/taskreactor/orchestrator/intent"
	idempotencyredis "github.com/taskreactor/orchestrator/internal/idempotency/redis"
	queuepulse "github.com/taskreactor/orchestrator/internal/queue/pulse"
	"github.com/taskreactor/orchestrator/internal/telemetry"
	"github.com/taskreactor/orchestrator/runfactory"
	"github.com/taskreactor/orchestrator/validationcoord"
	"github.com/taskreactor/orchestrator/webhook"
	"github.com/taskreactor/orchestrator/workflow"
	"github.com/taskreactor/orchestrator/workflow/engine/inmem"
	"github.com/taskreactor/orchestrator/workflow/workflowtest"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ctx = log.Context(ctx, log.WithFormat(log.FormatJSON))
	tel := telemetry.NewClue("orchestrator")

	cfg, err := config.Load()
	if err != nil {
		tel.Logger.Error(ctx, "loading configuration failed", "error", err.Error())
		os.Exit(1)
	}

	if err := run(ctx, cfg, tel); err != nil {
		tel.Logger.Error(ctx, "orchestrator exited with error", "error", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, tel telemetry.Telemetry) error {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse REDIS_URL: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	mongoClient, err := mongodriver.Connect(ctx, mongooptions.Client().ApplyURI(cfg.MongoURL))
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	defer mongoClient.Disconnect(ctx)

	queueRedis, err := redis.ParseURL(cfg.QueueBrokerURL)
	if err != nil {
		return fmt.Errorf("parse CELERY_BROKER_URL: %w", err)
	}
	q, err := queuepulse.New(queuepulse.Options{Redis: redis.NewClient(queueRedis)})
	if err != nil {
		return fmt.Errorf("construct queue: %w", err)
	}
	defer q.Close(ctx)

	// Domain stores: relational entities on Postgres, the append-only usage
	// ledger on Mongo, idempotency keys on Redis — per SPEC_FULL's domain
	// stack table.
	tasks := taskPgstore.New(pool)
	runs := runPgstore.New(pool)
	validations := validationPgstore.New(pool)
	reactivations := reactivationPgstore.New(pool)
	events := webhookeventPgstore.New(pool)

	ledgerClient, err := ledgerMongostore.New(ledgerMongostore.Options{Client: mongoClient, Database: cfg.MongoDatabase})
	if err != nil {
		return fmt.Errorf("construct ledger client: %w", err)
	}
	ledg := ledgerMongostore.NewStore(ledgerClient)

	distributed := idempotencyredis.New(redisClient)

	// External collaborators: one capability interface per system, one
	// concrete adapter importing that system's SDK, each wrapped in its own
	// circuit breaker (spec §6).
	tickets := graphql.New(cfg.TicketAPIEndpoint, cfg.MondayAPIToken)
	notifier := validationcoord.NewMessagingNotifier(slackmsg.New(cfg.SlackToken))

	llmClient, err := buildLLMLadder(ctx, cfg, tel)
	if err != nil {
		return fmt.Errorf("construct LLM provider ladder: %w", err)
	}

	// Pure orchestration layers: branch resolution, the reactivation gate,
	// the run factory, and the escalation-ladder comment analyzer.
	resolver := branch.NewResolver(cfg.DefaultBaseBranch, cfg.RepoBaseBranches, cfg.BaseBranchRules)
	g := gate.New(gate.Options{
		Tasks:         tasks,
		Reactivations: reactivations,
		Cooldowns: gate.CooldownLadder{
			Normal:     cfg.CooldownNormal,
			Aggressive: cfg.CooldownAggressive,
			Emergency:  cfg.CooldownEmergency,
		},
		MaxFailed: cfg.MaxFailedAttempts,
		Telemetry: tel,
	})
	factory := runfactory.New(runfactory.Options{Tasks: tasks, Runs: runs, Branches: resolver, Queue: q, Telemetry: tel})

	table, err := intent.LoadTable([]byte(intent.DefaultTableYAML))
	if err != nil {
		return fmt.Errorf("load intent pattern table: %w", err)
	}
	analyzer := intent.NewAnalyzer(table, llmClient, tel.Logger)

	// Workflow driver: node execution itself is explicitly out of scope
	// (spec's non-goals — "generating code, running tests" — cover what
	// every node but validation actually does), so every non-validation node
	// runs against the same deterministic fake the test suite uses; wiring a
	// real coding-agent NodeRunner per node is future work this driver is
	// already shaped for.
	runners := make(map[workflow.Node]workflow.NodeRunner)
	fake := workflowtest.NewFakeRunner()
	for _, n := range workflow.Nodes() {
		if n != workflow.NodeValidation {
			runners[n] = fake
		}
	}
	driver := workflow.New(workflow.Options{
		Runs:      runs,
		Ledger:    ledg,
		Queue:     q,
		Telemetry: tel,
		Runners:   runners,
		Retries: map[workflow.Node]workflow.RetryPolicy{
			workflow.NodeTest: {MaxAttempts: 1 + cfg.MaxTestRetries, InitialInterval: time.Second, BackoffCoefficient: 2},
		},
	})

	engine, closeEngine, err := buildEngine(cfg, driver)
	if err != nil {
		return fmt.Errorf("construct workflow engine: %w", err)
	}
	defer closeEngine()

	coord := validationcoord.New(validationcoord.Options{
		Validations:            validations,
		Runs:                   runs,
		Tasks:                  tasks,
		Engine:                 engine,
		Gate:                   g,
		Factory:                factory,
		Analyzer:               analyzer,
		Tickets:                tickets,
		Notifier:               notifier,
		ValidationWindow:       cfg.ValidationTimeoutQuestion,
		CommandTimeout:         cfg.ValidationTimeoutCommand,
		MaxReactivationsPerRun: cfg.MaxReactivationsPerRun,
	})
	stopSweep, err := coord.StartSweep(ctx)
	if err != nil {
		return fmt.Errorf("start validation sweep: %w", err)
	}
	defer stopSweep()

	handler := webhook.NewHandler(webhook.Options{
		Events:         events,
		Distributed:    distributed,
		Queue:          q,
		Telemetry:      tel,
		Secret:         cfg.WebhookSecret,
		BoardID:        cfg.BoardID,
		TestIDPrefixes: cfg.TestIDPrefixes,
		ProcWindow:     cfg.ProcWindow,
		QueueHighWater: cfg.QueueHighWater,
	})

	d := &dispatcher{
		tasks:   tasks,
		runs:    runs,
		tickets: tickets,
		factory: factory,
		engine:  engine,
		coord:   coord,
		logger:  tel.Logger,
	}
	if err := d.start(ctx, q, cfg.WorkerCount); err != nil {
		return fmt.Errorf("start intake dispatcher: %w", err)
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      webhook.Router(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		tel.Logger.Info(ctx, "orchestrator listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		tel.Logger.Info(ctx, "shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// buildLLMLadder wires the primary/fallback provider ladder (REDESIGN FLAGS)
// from whichever providers have credentials configured; at least one
// provider is required since the intent analyzer's LLM stage is not
// optional per spec §4.2.1.
func buildLLMLadder(ctx context.Context, cfg config.Config, tel telemetry.Telemetry) (llm.Client, error) {
	var rungs []llm.Client

	if cfg.AnthropicAPIKey != "" {
		c, err := anthropic.NewFromAPIKey(cfg.AnthropicAPIKey, cfg.AnthropicModel, 4096, 0.2)
		if err != nil {
			return nil, fmt.Errorf("anthropic: %w", err)
		}
		rungs = append(rungs, c)
	}
	if cfg.OpenAIAPIKey != "" {
		c, err := openai.NewFromAPIKey(cfg.OpenAIAPIKey, cfg.OpenAIModel, 4096, 0.2)
		if err != nil {
			return nil, fmt.Errorf("openai: %w", err)
		}
		rungs = append(rungs, c)
	}
	if cfg.BedrockModel != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		c, err := bedrock.New(bedrockruntime.NewFromConfig(awsCfg), bedrock.Options{DefaultModel: cfg.BedrockModel, MaxTokens: 4096, Temperature: 0.2})
		if err != nil {
			return nil, fmt.Errorf("bedrock: %w", err)
		}
		rungs = append(rungs, c)
	}
	if len(rungs) == 0 {
		return nil, fmt.Errorf("no LLM provider configured (set ANTHROPIC_API_KEY, OPENAI_API_KEY, or BEDROCK_MODEL)")
	}
	ladder, err := composite.New(tel.Logger, rungs...)
	if err != nil {
		return nil, err
	}
	return llm.NewRateLimited(ladder, 60000, 120000), nil
}

// buildEngine returns the in-memory engine unless TEMPORAL_HOST_PORT is set,
// in which case Runs are driven as durable Temporal workflow executions
// (spec §4.6's persisted-timer requirement). The returned close func stops
// whichever background worker the engine started.
func buildEngine(cfg config.Config, driver *workflow.Driver) (workflow.Engine, func(), error) {
	if !cfg.UseTemporal {
		return inmem.New(driver), func() {}, nil
	}
	return buildTemporalEngine(cfg, driver)
}
