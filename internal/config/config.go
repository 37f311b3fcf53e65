package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Vision   VisionConfig   `yaml:"vision"`
	Scrape   ScrapeConfig   `yaml:"scrape"`
	Gallery  GalleryConfig  `yaml:"gallery"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port" validate:"min=1,max=65535"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"min=1,max=65535"`
	Name     string `yaml:"name" validate:"required"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns" validate:"min=1"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	DetectionThreshold float64 `yaml:"detection_threshold" validate:"gt=0,lt=1"`
	NMSThreshold       float64 `yaml:"nms_threshold" validate:"gt=0,lt=1"`
}

type ScrapeConfig struct {
	Workers         int           `yaml:"workers" validate:"min=1,max=64"`
	HTTPTimeout     time.Duration `yaml:"http_timeout" validate:"gt=0"`
	Retention       time.Duration `yaml:"retention" validate:"gt=0"`
	CleanupSchedule string        `yaml:"cleanup_schedule"`
	// DownloadRate is image downloads per second across the process; 0 disables the limit.
	DownloadRate  float64 `yaml:"download_rate" validate:"min=0"`
	MaxImageBytes int64   `yaml:"max_image_bytes" validate:"min=1"`
	MaxPixels     int     `yaml:"max_pixels" validate:"min=1"`
	UserAgent     string  `yaml:"user_agent"`
}

type GalleryConfig struct {
	MatchThreshold float64 `yaml:"match_threshold" validate:"gt=0,lte=2"`
	MatchTopN      int     `yaml:"match_top_n" validate:"min=1"`
	DefaultLimit   int     `yaml:"default_limit" validate:"min=1"`
	MaxLimit       int     `yaml:"max_limit" validate:"min=1,gtefield=DefaultLimit"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// Load reads config from YAML file and applies environment variable overrides.
// A .env file in the working directory, if present, is loaded into the
// environment first. An empty path skips the file and uses env plus defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.Name == "" {
		cfg.Database.Name = "chirp"
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "chirp-images"
	}
	if cfg.Vision.ModelsDir == "" {
		cfg.Vision.ModelsDir = "models"
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.NMSThreshold == 0 {
		cfg.Vision.NMSThreshold = 0.4
	}
	if cfg.Scrape.Workers == 0 {
		cfg.Scrape.Workers = 2
	}
	if cfg.Scrape.HTTPTimeout == 0 {
		cfg.Scrape.HTTPTimeout = 15 * time.Second
	}
	if cfg.Scrape.Retention == 0 {
		cfg.Scrape.Retention = 7 * 24 * time.Hour
	}
	if cfg.Scrape.CleanupSchedule == "" {
		cfg.Scrape.CleanupSchedule = "@every 6h"
	}
	if cfg.Scrape.MaxImageBytes == 0 {
		cfg.Scrape.MaxImageBytes = 20 << 20
	}
	if cfg.Scrape.MaxPixels == 0 {
		cfg.Scrape.MaxPixels = 25_000_000
	}
	if cfg.Scrape.UserAgent == "" {
		cfg.Scrape.UserAgent = "chirp/1.0"
	}
	if cfg.Gallery.MatchThreshold == 0 {
		cfg.Gallery.MatchThreshold = 0.5
	}
	if cfg.Gallery.MatchTopN == 0 {
		cfg.Gallery.MatchTopN = 3
	}
	if cfg.Gallery.DefaultLimit == 0 {
		cfg.Gallery.DefaultLimit = 40
	}
	if cfg.Gallery.MaxLimit == 0 {
		cfg.Gallery.MaxLimit = 200
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHIRP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CHIRP_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("CHIRP_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("CHIRP_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("CHIRP_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("CHIRP_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("CHIRP_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("CHIRP_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("CHIRP_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("CHIRP_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("CHIRP_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("CHIRP_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("CHIRP_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("CHIRP_SCRAPE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scrape.Workers = n
		}
	}
	if v := os.Getenv("CHIRP_SCRAPE_HTTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scrape.HTTPTimeout = d
		}
	}
	if v := os.Getenv("CHIRP_MATCH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Gallery.MatchThreshold = f
		}
	}
	if v := os.Getenv("CHIRP_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
