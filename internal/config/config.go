package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mpataki/transmute/internal/completion"
	"github.com/mpataki/transmute/internal/objectstore"
	"github.com/mpataki/transmute/internal/workflow"
)

type Config struct {
	DataDir            string
	DBPath             string
	UserLanguageDir    string
	ProjectLanguageDir string

	// Completion provider
	Provider          string
	APIKey            string
	Model             string
	BaseURL           string
	CallTimeout       time.Duration
	RetryDelay        time.Duration
	RequestsPerSecond float64
	Burst             int
	Review            bool

	// Workflow policy
	MaxRetries       int
	TransportRetries int
	StageTimeout     time.Duration

	Concurrency int
	ListenAddr  string
	S3          objectstore.S3Config
}

// New reads configuration from the environment, after loading a .env file
// from the working directory if there is one.
func New() (*Config, error) {
	_ = godotenv.Load()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dataDir := getEnv("TRANSMUTE_DATA_DIR", filepath.Join(homeDir, ".transmute"))

	c := &Config{
		DataDir:            dataDir,
		DBPath:             getEnv("TRANSMUTE_DB_PATH", filepath.Join(dataDir, "transmute.db")),
		UserLanguageDir:    filepath.Join(dataDir, "languages"),
		ProjectLanguageDir: ".transmute/languages",

		Model:   os.Getenv("TRANSMUTE_MODEL"),
		BaseURL: os.Getenv("TRANSMUTE_BASE_URL"),
		Review:  getBool("TRANSMUTE_REVIEW", false),

		ListenAddr: getEnv("TRANSMUTE_ADDR", ":8000"),
		S3: objectstore.S3Config{
			Endpoint:  os.Getenv("TRANSMUTE_S3_ENDPOINT"),
			Region:    getEnv("TRANSMUTE_S3_REGION", "us-east-1"),
			AccessKey: firstNonEmpty(os.Getenv("TRANSMUTE_S3_ACCESS_KEY"), os.Getenv("MINIO_ROOT_USER")),
			SecretKey: firstNonEmpty(os.Getenv("TRANSMUTE_S3_SECRET_KEY"), os.Getenv("MINIO_ROOT_PASSWORD")),
			Bucket:    getEnv("TRANSMUTE_S3_BUCKET", "transmute-runs"),
			UseSSL:    getBool("TRANSMUTE_S3_USE_SSL", false),
		},
	}
	c.Provider, c.APIKey = resolveProvider()

	var errs []string
	parse := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	c.CallTimeout, err = getDuration("TRANSMUTE_CALL_TIMEOUT", 60*time.Second)
	parse(err)
	c.RetryDelay, err = getDuration("TRANSMUTE_RETRY_DELAY", workflow.DefaultPolicy().TransportBackoff)
	parse(err)
	c.StageTimeout, err = getDuration("TRANSMUTE_STAGE_TIMEOUT", 3*time.Minute)
	parse(err)
	c.Burst, err = getInt("TRANSMUTE_BURST", 2)
	parse(err)
	c.MaxRetries, err = getInt("TRANSMUTE_MAX_RETRIES", workflow.DefaultPolicy().MaxRetries)
	parse(err)
	c.TransportRetries, err = getInt("TRANSMUTE_TRANSPORT_RETRIES", workflow.DefaultPolicy().TransportRetries)
	parse(err)
	c.Concurrency, err = getInt("TRANSMUTE_CONCURRENCY", 4)
	parse(err)
	c.RequestsPerSecond, err = getFloat("TRANSMUTE_RPS", 0.5)
	parse(err)

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return c, nil
}

// resolveProvider honours TRANSMUTE_PROVIDER and otherwise picks the first
// provider with a key, falling back to offline generation.
func resolveProvider() (string, string) {
	key := os.Getenv("TRANSMUTE_API_KEY")
	switch p := strings.ToLower(os.Getenv("TRANSMUTE_PROVIDER")); p {
	case completion.ProviderGroq:
		return p, firstNonEmpty(key, os.Getenv("GROQ_API_KEY"))
	case completion.ProviderGemini:
		return p, firstNonEmpty(key, os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY"))
	case "":
	default:
		return p, key
	}

	if k := firstNonEmpty(key, os.Getenv("GROQ_API_KEY")); k != "" {
		return completion.ProviderGroq, k
	}
	if k := firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY")); k != "" {
		return completion.ProviderGemini, k
	}
	return completion.ProviderOffline, ""
}

func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	if err := os.MkdirAll(c.UserLanguageDir, 0755); err != nil {
		return err
	}
	return nil
}

func (c *Config) WorkspacesDir() string {
	return filepath.Join(c.DataDir, "workspaces")
}

// LanguageDirs lists override directories, lowest precedence first.
func (c *Config) LanguageDirs() []string {
	return []string{c.UserLanguageDir, c.ProjectLanguageDir}
}

func (c *Config) Policy() workflow.Policy {
	p := workflow.DefaultPolicy()
	p.MaxRetries = c.MaxRetries
	p.TransportRetries = c.TransportRetries
	p.TransportBackoff = c.RetryDelay
	p.StageTimeout = c.StageTimeout
	return p
}

func (c *Config) Completion() completion.Config {
	return completion.Config{
		Provider:   c.Provider,
		APIKey:     c.APIKey,
		Model:      c.Model,
		BaseURL:    c.BaseURL,
		Timeout:    c.CallTimeout,
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return defaultValue
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
