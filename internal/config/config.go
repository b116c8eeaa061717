package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/leca/dt-image-renditions/internal/renditionset"
)

type Config struct {
	ListenAddr string `validate:"required"`
	DBPath     string `validate:"required"`
	AuthToken  string

	StorageBackend string `validate:"oneof=fs s3"`
	StoragePath    string `validate:"required_if=StorageBackend fs"`
	MediaURL       string `validate:"omitempty,url"`

	S3Bucket          string `validate:"required_if=StorageBackend s3"`
	S3Region          string
	S3Endpoint        string `validate:"omitempty,url"`
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3PublicURL       string `validate:"omitempty,url"`

	RedisAddr     string `validate:"omitempty,hostname_port"`
	RedisPassword string
	RedisDB       int `validate:"gte=0"`
	CacheTTL      time.Duration `validate:"gt=0"`

	AllowedExtensions []string `validate:"min=1,dive,required"`
	MaxFileSizeMB     int      `validate:"min=1"`
	MinWidth          int      `validate:"gte=0"`
	MinHeight         int      `validate:"gte=0"`
	MaxWidth          int      `validate:"gte=0"`
	MaxHeight         int      `validate:"gte=0"`

	OptimizeQuality  int           `validate:"min=1,max=100"`
	OptimizeTimeout  time.Duration `validate:"gt=0"`
	TinyPNGAPIKey    string
	TinyPNGKeyFile   string `validate:"omitempty,file"`
	TinyPNGEndpoint  string `validate:"omitempty,url"`
	CreateOnDemand   bool
	PlaceholderPath  string
	RenditionSetsRaw string
	SizedRoot        string `validate:"required,excludesall= /"`
	FilteredRoot     string `validate:"required,excludesall= /"`
	WarmWorkers      int    `validate:"min=1,max=64"`
}

// Load reads the configuration from the environment, after loading an
// optional .env file from the working directory.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ListenAddr: getEnv("DT_LISTEN_ADDR", ":8080"),
		DBPath:     getEnv("DT_DB_PATH", "/data/db/renditions.db"),
		AuthToken:  getEnv("DT_AUTH_TOKEN", ""),

		StorageBackend: getEnv("DT_STORAGE_BACKEND", "fs"),
		StoragePath:    getEnv("DT_STORAGE_PATH", "/data/media"),
		MediaURL:       strings.TrimRight(getEnv("DT_MEDIA_URL", "http://localhost:8080/media"), "/"),

		S3Bucket:          getEnv("DT_S3_BUCKET", ""),
		S3Region:          getEnv("DT_S3_REGION", "us-east-1"),
		S3Endpoint:        getEnv("DT_S3_ENDPOINT", ""),
		S3AccessKeyID:     getEnv("DT_S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("DT_S3_SECRET_ACCESS_KEY", ""),
		S3PublicURL:       strings.TrimRight(getEnv("DT_S3_PUBLIC_URL", ""), "/"),

		RedisAddr:     getEnv("DT_REDIS_ADDR", ""),
		RedisPassword: getEnv("DT_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("DT_REDIS_DB", 0),
		CacheTTL:      getEnvDuration("DT_CACHE_TTL", 30*24*time.Hour),

		AllowedExtensions: getEnvList("DT_ALLOWED_EXTENSIONS", []string{"jpeg", "jpg", "png", "ico", "webp"}),
		MaxFileSizeMB:     getEnvInt("DT_MAX_FILE_SIZE_MB", 10),
		MinWidth:          getEnvInt("DT_MIN_WIDTH", 0),
		MinHeight:         getEnvInt("DT_MIN_HEIGHT", 0),
		MaxWidth:          getEnvInt("DT_MAX_WIDTH", 0),
		MaxHeight:         getEnvInt("DT_MAX_HEIGHT", 0),

		OptimizeQuality:  getEnvInt("DT_OPTIMIZE_QUALITY", 75),
		OptimizeTimeout:  getEnvDuration("DT_OPTIMIZE_TIMEOUT", 10*time.Second),
		TinyPNGAPIKey:    getEnv("DT_TINYPNG_API_KEY", ""),
		TinyPNGKeyFile:   getEnv("DT_TINYPNG_API_KEY_FILE", ""),
		TinyPNGEndpoint:  getEnv("DT_TINYPNG_ENDPOINT", ""),
		CreateOnDemand:   getEnvBool("DT_CREATE_ON_DEMAND", true),
		PlaceholderPath:  getEnv("DT_PLACEHOLDER_PATH", ""),
		RenditionSetsRaw: getEnv("DT_RENDITION_SETS", ""),
		SizedRoot:        getEnv("DT_SIZED_ROOT", "__sized__"),
		FilteredRoot:     getEnv("DT_FILTERED_ROOT", "__filtered__"),
		WarmWorkers:      getEnvInt("DT_WARM_WORKERS", 4),
	}
}

// Validate checks field constraints and parses the rendition set registry.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := c.RenditionSets(); err != nil {
		return fmt.Errorf("invalid configuration: DT_RENDITION_SETS: %w", err)
	}
	return nil
}

// RenditionSets parses the named rendition set registry.
func (c *Config) RenditionSets() (renditionset.Registry, error) {
	return renditionset.ParseRegistry([]byte(c.RenditionSetsRaw))
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	var result int
	for _, c := range v {
		if c < '0' || c > '9' {
			return defaultValue
		}
		result = result*10 + int(c-'0')
	}
	return result
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return d
}

// getEnvList splits a comma separated value, lowercasing and trimming each
// entry.
func getEnvList(key string, defaultValue []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.ToLower(strings.TrimSpace(item)); item != "" {
			out = append(out, strings.TrimPrefix(item, "."))
		}
	}
	return out
}
