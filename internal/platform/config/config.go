package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// HTTP APIサーバ設定
	HTTPAddr string

	// Database設定（Hostが空の場合はアーカイブ無効）
	Database DatabaseConfig

	// Redis設定（URLが空の場合はキャッシュ無効）
	Redis RedisConfig

	// エンジン対応表YAMLのパス
	EnginesFile string

	// Orchestrator設定
	Orchestrator OrchestratorConfig

	// ログ設定
	LogLevel  string // "debug", "info", "warn", "error"
	LogFormat string // "json" or "text"
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Enabled はアーカイブが有効かどうかを返す
func (c DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

// RedisConfig はRedis接続設定
type RedisConfig struct {
	URL        string
	TTLSeconds int
}

// Enabled はキャッシュが有効かどうかを返す
func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

// OrchestratorConfig はディスパッチャの既定動作の設定
type OrchestratorConfig struct {
	// GlobalConcurrency は全ジョブ横断の同時実行フェーズ数上限（0で無制限）
	GlobalConcurrency int
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		HTTPAddr: getEnv("RUKH_HTTP_ADDR", ":8080"),
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", ""),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "rukh"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "rukh"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			URL:        getEnv("REDIS_URL", ""),
			TTLSeconds: getEnvAsInt("CACHE_TTL", 3600),
		},
		EnginesFile: getEnv("RUKH_ENGINES_FILE", "engines.yaml"),
		Orchestrator: OrchestratorConfig{
			GlobalConcurrency: getEnvAsInt("RUKH_GLOBAL_CONCURRENCY", 8),
		},
		LogLevel:  getEnv("RUKH_LOG_LEVEL", "info"),
		LogFormat: getEnv("RUKH_LOG_FORMAT", "json"),
	}

	return cfg, nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
