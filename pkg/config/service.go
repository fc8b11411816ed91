package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/unitforge/pkg/engine"
	"github.com/openfroyo/unitforge/pkg/stores"
	"github.com/openfroyo/unitforge/pkg/telemetry"
)

// DefaultConfigFile is the config path used when none is given.
const DefaultConfigFile = "unitforge.yaml"

// ServiceConfig is the unitforge service configuration file.
type ServiceConfig struct {
	// DataDir holds the database and any other local state.
	DataDir string `yaml:"data_dir" validate:"required"`

	Database   DatabaseConfig   `yaml:"database"`
	Telemetry  telemetry.Config `yaml:"telemetry"`
	Generation GenerationConfig `yaml:"generation"`
	Policy     PolicySettings   `yaml:"policy"`
	Generator  GeneratorConfig  `yaml:"generator"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	// Path is the database file. Relative paths resolve against data_dir.
	Path string `yaml:"path" validate:"required"`

	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" validate:"gte=0"`
}

// GenerationConfig configures generation requests and balancing.
type GenerationConfig struct {
	Timeout            time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxAttempts        int           `yaml:"max_attempts" validate:"gte=1,lte=5"`
	RetryDelay         time.Duration `yaml:"retry_delay" validate:"gte=0"`
	VocabularyCount    int           `yaml:"vocabulary_count" validate:"gte=1,lte=50"`
	SentenceCount      int           `yaml:"sentence_count" validate:"gte=1,lte=30"`
	QACount            int           `yaml:"qa_count" validate:"gte=0,lte=20"`
	ReinforcementRatio float64       `yaml:"reinforcement_ratio" validate:"gte=0.05,lte=0.15"`
	RecentUnits        int           `yaml:"recent_units" validate:"gte=1,lte=3"`
	TieTolerance       int           `yaml:"tie_tolerance" validate:"gte=0"`
	CrossBookContext   bool          `yaml:"cross_book_context"`
	MinQuality         float64       `yaml:"min_quality" validate:"gte=0,lte=1"`

	// RateLimitPerSecond caps generator calls. Zero disables the limiter.
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second" validate:"gte=0"`
	Burst              int     `yaml:"burst" validate:"gte=0"`

	// MaxParallelBooks bounds how many books of a course generate at once.
	MaxParallelBooks int `yaml:"max_parallel_books" validate:"gte=1"`
}

// PolicySettings configures content policies.
type PolicySettings struct {
	// Paths lists .rego/.json files or directories loaded at startup.
	Paths []string `yaml:"paths,omitempty"`

	// Watch reloads policies when files under Paths change.
	Watch bool `yaml:"watch"`

	// Enabled toggles policies by name; a "-" prefix disables.
	Enabled []string `yaml:"enabled,omitempty"`
}

// GeneratorConfig selects and configures the external generator.
type GeneratorConfig struct {
	Kind string `yaml:"kind" validate:"required,oneof=openai script"`

	Model       string  `yaml:"model,omitempty" validate:"required_if=Kind openai"`
	APIKeyEnv   string  `yaml:"api_key_env,omitempty" validate:"required_if=Kind openai"`
	BaseURL     string  `yaml:"base_url,omitempty" validate:"omitempty,url"`
	Temperature float32 `yaml:"temperature" validate:"gte=0,lte=2"`

	// Script is the Starlark file defining generate(request).
	Script string `yaml:"script,omitempty" validate:"required_if=Kind script"`
}

// Default returns the default service configuration.
func Default() *ServiceConfig {
	def := engine.DefaultOrchestratorConfig()
	return &ServiceConfig{
		DataDir: "./data",
		Database: DatabaseConfig{
			Path:            "unitforge.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Telemetry: *telemetry.DefaultConfig(),
		Generation: GenerationConfig{
			Timeout:            def.Timeout,
			MaxAttempts:        def.MaxAttempts,
			RetryDelay:         def.RetryDelay,
			VocabularyCount:    def.Balancing.VocabularyCount,
			SentenceCount:      def.Balancing.SentenceCount,
			QACount:            def.Balancing.QACount,
			ReinforcementRatio: def.Balancing.ReinforcementRatio,
			RecentUnits:        def.RecentUnits,
			RateLimitPerSecond: 1,
			Burst:              2,
			MaxParallelBooks:   2,
		},
		Policy: PolicySettings{
			Paths: []string{"./policies"},
		},
		Generator: GeneratorConfig{
			Kind:        "openai",
			Model:       "gpt-4o-mini",
			APIKeyEnv:   "OPENAI_API_KEY",
			Temperature: 0.4,
		},
	}
}

// Load reads a YAML config file over the defaults and validates it.
func Load(path string) (*ServiceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config over the defaults and validates it.
func Parse(data []byte) (*ServiceConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints and the telemetry section.
func (c *ServiceConfig) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return engine.NewValidationError(fmt.Sprintf("config %s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
		return engine.NewValidationError(err.Error())
	}
	if err := c.Telemetry.Validate(); err != nil {
		return engine.NewValidationError(fmt.Sprintf("config telemetry: %v", err))
	}
	return nil
}

// Save writes the config as YAML, creating parent directories.
func (c *ServiceConfig) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// WriteDefault writes the default config to path. An existing file is kept unless force is set.
func WriteDefault(path string, force bool) (*ServiceConfig, error) {
	if _, err := os.Stat(path); err == nil && !force {
		return nil, fmt.Errorf("config file %s already exists", path)
	}
	cfg := Default()
	if err := cfg.Save(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DatabasePath returns the database file path resolved against DataDir.
func (c *ServiceConfig) DatabasePath() string {
	if c.Database.Path == ":memory:" || filepath.IsAbs(c.Database.Path) {
		return c.Database.Path
	}
	return filepath.Join(c.DataDir, c.Database.Path)
}

// StoreConfig returns the SQLite store configuration.
func (c *ServiceConfig) StoreConfig() stores.Config {
	return stores.Config{
		Path:            c.DatabasePath(),
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
	}
}

// ToOrchestratorConfig maps the generation section onto the engine configuration.
func (g GenerationConfig) ToOrchestratorConfig() engine.OrchestratorConfig {
	return engine.OrchestratorConfig{
		Timeout:          g.Timeout,
		MaxAttempts:      g.MaxAttempts,
		RetryDelay:       g.RetryDelay,
		CrossBookContext: g.CrossBookContext,
		RecentUnits:      g.RecentUnits,
		Balancing: engine.BalancingOptions{
			VocabularyCount:    g.VocabularyCount,
			SentenceCount:      g.SentenceCount,
			QACount:            g.QACount,
			ReinforcementRatio: g.ReinforcementRatio,
			TieTolerance:       g.TieTolerance,
			MinQuality:         g.MinQuality,
		},
	}
}

// Limiter returns the generator rate limiter, or nil when rate limiting is off.
func (g GenerationConfig) Limiter() *rate.Limiter {
	if g.RateLimitPerSecond <= 0 {
		return nil
	}
	burst := g.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(g.RateLimitPerSecond), burst)
}
