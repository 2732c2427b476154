package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/dmarshall/agent-orchestrator/internal/application/dispatcher"
	"github.com/dmarshall/agent-orchestrator/internal/application/executor"
	"github.com/dmarshall/agent-orchestrator/internal/application/service"
	"github.com/dmarshall/agent-orchestrator/internal/application/taskexec"
	"github.com/dmarshall/agent-orchestrator/internal/config"
	"github.com/dmarshall/agent-orchestrator/internal/domain/agent"
	"github.com/dmarshall/agent-orchestrator/internal/infrastructure/external/console"
	"github.com/dmarshall/agent-orchestrator/internal/infrastructure/external/openai"
	"github.com/dmarshall/agent-orchestrator/internal/infrastructure/persistence/repository"
	"github.com/dmarshall/agent-orchestrator/internal/infrastructure/persistence/sqlite"
	"github.com/dmarshall/agent-orchestrator/internal/infrastructure/scheduler"
	"github.com/dmarshall/agent-orchestrator/internal/infrastructure/worker"
	httpiface "github.com/dmarshall/agent-orchestrator/internal/interfaces/http"
	"github.com/dmarshall/agent-orchestrator/pkg/database"
	"github.com/dmarshall/agent-orchestrator/pkg/utils"
)

func main() {
	// Local development reads credentials from a .env file; missing is fine
	_ = gotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting agent orchestrator",
		zap.String("config", configPath),
		zap.String("model", cfg.OpenAI.Model))

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(cfg.Database.MigrationsDir); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	txManager := sqlite.NewDB(db.DB, logger)

	// Repositories
	tasks := repository.NewTaskRepository(db.DB, logger)
	pipelines := repository.NewPipelineRepository(db.DB, logger)
	users := repository.NewUserRepository(db.DB, logger)
	decisions := repository.NewDecisionLogRepository(db.DB, logger)
	reminders := repository.NewReminderRepository(db.DB, logger)
	queue := repository.NewJobQueue(db.DB, txManager, cfg.Worker.ClaimTTL, logger)

	// Event bus
	kv := kvLogger{logger.Sugar()}
	bus := dispatcher.New(dispatcher.WithLogger(kv))

	// External capabilities
	notifier := console.NewNotifier(logger)
	calendar := console.NewCalendar(logger)
	automation := console.NewAutomation(logger)

	prompts := openai.DefaultPrompts()
	if cfg.OpenAI.PromptsPath != "" {
		prompts, err = openai.LoadPrompts(cfg.OpenAI.PromptsPath)
		if err != nil {
			logger.Fatal("Failed to load prompts", zap.Error(err))
		}
	}
	llm := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model, prompts, logger)

	// Action executor
	handlers := executor.NewServiceHandlers(executor.ServiceDeps{
		Tasks:      tasks,
		Pipelines:  pipelines,
		Calendar:   calendar,
		Notifier:   notifier,
		Automation: automation,
		Bus:        bus,
		Logger:     logger,
	})
	exec := executor.New(executor.Config{
		MaxExecutionTime: cfg.Executor.MaxExecutionTime,
		ActionTimeout:    cfg.Executor.ActionTimeout,
		RetryAttempts:    cfg.Executor.RetryAttempts,
		RetryDelay:       cfg.Executor.RetryDelay,
		StopOnFailure:    cfg.Executor.StopOnFailure,
		EnableRollback:   cfg.Executor.EnableRollback,
	}, bus, logger, executor.WithHandlers(handlers))

	taskExec := taskexec.New(tasks, users, notifier, txManager, bus, logger)

	// Decision pipeline
	router := service.NewConfidenceRouter(service.ConfidenceThreshold{
		HighThreshold: cfg.Agent.HighThreshold,
		LowThreshold:  cfg.Agent.LowThreshold,
		ConfigVersion: "v1",
	})
	available := make([]agent.ActionType, 0, len(cfg.Agent.AvailableActions))
	for _, a := range cfg.Agent.AvailableActions {
		available = append(available, agent.ActionType(a))
	}
	agents := service.NewAgentService(service.Config{
		MaxDecisionRetries: cfg.Agent.MaxDecisionRetries,
		DecisionRetryDelay: cfg.Agent.DecisionRetryDelay,
		AvailableActions:   available,
	}, llm, exec, router, decisions, pipelines, users, bus, logger)

	// Background workers
	manager := worker.NewWorkerManager(logger)
	manager.Register(worker.NewJobWorker(worker.JobWorkerConfig{
		PollInterval:   cfg.Worker.PollInterval,
		BatchSize:      cfg.Worker.BatchSize,
		ProcessTimeout: cfg.Worker.ProcessTimeout,
		RetryDelay:     cfg.Worker.RetryDelay,
	}, queue, agents, taskExec, tasks, reminders, bus, logger))
	manager.Register(scheduler.New(scheduler.Config{
		SLASchedule:      cfg.Scheduler.SLASchedule,
		ReminderSchedule: cfg.Scheduler.ReminderSchedule,
		StatsSchedule:    cfg.Scheduler.StatsSchedule,
		StaleSchedule:    cfg.Scheduler.StaleSchedule,
		StaleAfter:       cfg.Scheduler.StaleAfter,
		MaxStaleRetries:  cfg.Scheduler.MaxStaleRetries,
		BatchSize:        cfg.Scheduler.BatchSize,
		SweepTimeout:     cfg.Scheduler.SweepTimeout,
	}, tasks, reminders, queue, bus, logger))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.StartAll(ctx); err != nil {
		logger.Fatal("Failed to start workers", zap.Error(err))
	}

	server := httpiface.NewServer(httpiface.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, agents, queue, kv)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
		cancel()
		if err := <-serverErr; err != nil {
			logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
		}
		cancel()
	}

	if err := manager.StopAll(); err != nil {
		logger.Error("Worker shutdown error", zap.Error(err))
	}

	logger.Info("Agent orchestrator stopped")
}

// kvLogger adapts zap's sugared logger to the key/value Logger interfaces
// used by the dispatcher and HTTP layers.
type kvLogger struct {
	s *zap.SugaredLogger
}

func (l kvLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Infow(msg, keysAndValues...)
}

func (l kvLogger) Error(msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, keysAndValues...)
}
