package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Storage   StorageConfig
	Render    RenderConfig
	RateLimit RateLimitConfig
	S3        S3Config
	Cleanup   CleanupConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type StorageConfig struct {
	DataDir  string
	LogsDir  string
	MediaURL string
	TTLHours int // retention window for store records
}

type RenderConfig struct {
	BlenderBin     string
	ScriptPath     string
	TimeoutMinutes int // 0 disables the render timeout
}

type RateLimitConfig struct {
	UploadPerHour int
	StartPerHour  int
}

type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type CleanupConfig struct {
	Interval string // cron spec or @every duration for the workspace sweep
}

func Load() (*Config, error) {
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("S3_ACCESS_KEY_ID")
	readSecret("S3_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("storage.data_dir", "DATA_DIR")
	_ = viper.BindEnv("storage.logs_dir", "LOGS_DIR")
	_ = viper.BindEnv("storage.media_url", "MEDIA_URL")
	_ = viper.BindEnv("storage.ttl_hours", "STORE_TTL_HOURS")
	_ = viper.BindEnv("render.blender_bin", "BLENDER_BIN")
	_ = viper.BindEnv("render.script_path", "RENDER_SCRIPT_PATH")
	_ = viper.BindEnv("render.timeout_minutes", "RENDER_TIMEOUT_MINUTES")
	_ = viper.BindEnv("ratelimit.upload_per_hour", "RATELIMIT_UPLOAD_PER_HOUR")
	_ = viper.BindEnv("ratelimit.start_per_hour", "RATELIMIT_START_PER_HOUR")
	_ = viper.BindEnv("s3.endpoint", "S3_ENDPOINT")
	_ = viper.BindEnv("s3.region", "S3_REGION")
	_ = viper.BindEnv("s3.access_key_id", "S3_ACCESS_KEY_ID")
	_ = viper.BindEnv("s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("s3.bucket_name", "S3_BUCKET_NAME")
	_ = viper.BindEnv("s3.public_url", "S3_PUBLIC_URL")
	_ = viper.BindEnv("cleanup.interval", "CLEANUP_INTERVAL")

	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("storage.data_dir", "./data")
	viper.SetDefault("storage.logs_dir", "./logs")
	viper.SetDefault("storage.media_url", "/media")
	viper.SetDefault("storage.ttl_hours", 24)
	viper.SetDefault("render.blender_bin", "blender")
	viper.SetDefault("render.script_path", "./scripts/render.py")
	viper.SetDefault("render.timeout_minutes", 0)
	viper.SetDefault("ratelimit.upload_per_hour", 30)
	viper.SetDefault("ratelimit.start_per_hour", 60)
	viper.SetDefault("s3.region", "auto")
	viper.SetDefault("cleanup.interval", "@every 1h")

	// Config file is optional; env vars and defaults cover everything.
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		Storage: StorageConfig{
			DataDir:  viper.GetString("storage.data_dir"),
			LogsDir:  viper.GetString("storage.logs_dir"),
			MediaURL: viper.GetString("storage.media_url"),
			TTLHours: viper.GetInt("storage.ttl_hours"),
		},
		Render: RenderConfig{
			BlenderBin:     viper.GetString("render.blender_bin"),
			ScriptPath:     viper.GetString("render.script_path"),
			TimeoutMinutes: viper.GetInt("render.timeout_minutes"),
		},
		RateLimit: RateLimitConfig{
			UploadPerHour: viper.GetInt("ratelimit.upload_per_hour"),
			StartPerHour:  viper.GetInt("ratelimit.start_per_hour"),
		},
		S3: S3Config{
			Endpoint:        viper.GetString("s3.endpoint"),
			Region:          viper.GetString("s3.region"),
			AccessKeyID:     viper.GetString("s3.access_key_id"),
			SecretAccessKey: viper.GetString("s3.secret_access_key"),
			BucketName:      viper.GetString("s3.bucket_name"),
			PublicURL:       viper.GetString("s3.public_url"),
		},
		Cleanup: CleanupConfig{
			Interval: viper.GetString("cleanup.interval"),
		},
	}

	return cfg, nil
}
