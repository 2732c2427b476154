package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// OpenAIConfig holds OpenAI API configuration
type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	PromptsPath string        `mapstructure:"prompts_path"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// AgentConfig holds decision pipeline configuration
type AgentConfig struct {
	HighThreshold      float64       `mapstructure:"high_threshold"`
	LowThreshold       float64       `mapstructure:"low_threshold"`
	MaxDecisionRetries int           `mapstructure:"max_decision_retries"`
	DecisionRetryDelay time.Duration `mapstructure:"decision_retry_delay"`
	AvailableActions   []string      `mapstructure:"available_actions"`
}

// ExecutorConfig holds action executor configuration
type ExecutorConfig struct {
	MaxExecutionTime time.Duration `mapstructure:"max_execution_time"`
	ActionTimeout    time.Duration `mapstructure:"action_timeout"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	StopOnFailure    bool          `mapstructure:"stop_on_failure"`
	EnableRollback   bool          `mapstructure:"enable_rollback"`
}

// WorkerConfig holds job worker configuration
type WorkerConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	ProcessTimeout time.Duration `mapstructure:"process_timeout"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	ClaimTTL       time.Duration `mapstructure:"claim_ttl"`
}

// SchedulerConfig holds sweep configuration
type SchedulerConfig struct {
	SLASchedule      string        `mapstructure:"sla_schedule"`
	ReminderSchedule string        `mapstructure:"reminder_schedule"`
	StatsSchedule    string        `mapstructure:"stats_schedule"`
	StaleSchedule    string        `mapstructure:"stale_schedule"`
	StaleAfter       time.Duration `mapstructure:"stale_after"`
	MaxStaleRetries  int           `mapstructure:"max_stale_retries"`
	BatchSize        int           `mapstructure:"batch_size"`
	SweepTimeout     time.Duration `mapstructure:"sweep_timeout"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Override with environment variables
	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	viper.SetDefault("database.path", "data/orchestrator.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	viper.SetDefault("database.migrations_dir", "migrations")

	// OpenAI defaults
	viper.SetDefault("openai.model", "gpt-4o")
	viper.SetDefault("openai.timeout", 60*time.Second)

	// Agent defaults
	viper.SetDefault("agent.high_threshold", 0.85)
	viper.SetDefault("agent.low_threshold", 0.40)
	viper.SetDefault("agent.max_decision_retries", 2)
	viper.SetDefault("agent.decision_retry_delay", 2*time.Second)

	// Executor defaults
	viper.SetDefault("executor.max_execution_time", 2*time.Minute)
	viper.SetDefault("executor.action_timeout", 30*time.Second)
	viper.SetDefault("executor.retry_attempts", 2)
	viper.SetDefault("executor.retry_delay", 1*time.Second)
	viper.SetDefault("executor.stop_on_failure", false)
	viper.SetDefault("executor.enable_rollback", true)

	// Worker defaults
	viper.SetDefault("worker.poll_interval", 5*time.Second)
	viper.SetDefault("worker.batch_size", 10)
	viper.SetDefault("worker.process_timeout", 120*time.Second)
	viper.SetDefault("worker.retry_delay", 30*time.Second)
	viper.SetDefault("worker.claim_ttl", 5*time.Minute)

	// Scheduler defaults
	viper.SetDefault("scheduler.sla_schedule", "@every 15m")
	viper.SetDefault("scheduler.reminder_schedule", "@every 1m")
	viper.SetDefault("scheduler.stats_schedule", "@every 15m")
	viper.SetDefault("scheduler.stale_schedule", "@every 1h")
	viper.SetDefault("scheduler.stale_after", 72*time.Hour)
	viper.SetDefault("scheduler.max_stale_retries", 3)
	viper.SetDefault("scheduler.batch_size", 100)
	viper.SetDefault("scheduler.sweep_timeout", 60*time.Second)

	// Logger defaults
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars() {
	// Sensitive credentials from environment
	viper.BindEnv("openai.api_key", "OPENAI_API_KEY")
	viper.BindEnv("database.path", "DATABASE_PATH")
	viper.BindEnv("server.port", "SERVER_PORT")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required")
	}

	if c.Agent.HighThreshold <= c.Agent.LowThreshold {
		return fmt.Errorf("agent.high_threshold must be greater than agent.low_threshold")
	}
	if c.Agent.HighThreshold > 1 || c.Agent.LowThreshold < 0 {
		return fmt.Errorf("agent thresholds must lie within [0,1]")
	}

	if c.Executor.MaxExecutionTime <= 0 {
		return fmt.Errorf("executor.max_execution_time must be positive")
	}
	if c.Executor.ActionTimeout <= 0 {
		return fmt.Errorf("executor.action_timeout must be positive")
	}

	if c.Worker.BatchSize <= 0 {
		return fmt.Errorf("worker.batch_size must be positive")
	}

	return nil
}
