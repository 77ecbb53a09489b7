// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// 認証設定（未設定の場合は匿名モードで動作）
	AppUsername     string // ログイン用ユーザー名
	AppPasswordHash string // bcryptでハッシュ化されたパスワード
	SessionSecret   string // セッション署名用の秘密鍵

	// ジョブストア/キュー設定
	RedisURL string // ジョブストアとAsynqキューで共用するRedis接続URL

	// 生成パイプライン設定
	ReviewThreshold int // レビュー承認の既定スコア閾値（0-100）
	MaxIterations   int // 設計フェーズの最大イテレーション回数

	// スタックジョブ監視設定
	MonitorIntervalSeconds int // 監視スイープの間隔（秒）
	StuckDeadlineMinutes   int // in_progress のままこの分数を超えたジョブをタイムアウト扱いにする

	// 成果物設定
	OutputDir        string // 生成プロジェクトのZIPを書き出すディレクトリ
	JobResultBaseURL string // 成果物取得用のベースURL（未設定ならAPI相対パス）

	// コラボレーター設定
	OpenAIAPIKey string // OpenAI APIキー
	OpenAIModel  string // 使用するOpenAIモデル

	// 公開（GitHub連携）設定
	GitHubToken    string // GitHub Personal Access Token（未設定なら公開フェーズはスキップ）
	GitHubUsername string // リポジトリを作成するGitHubユーザー名
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),

		AppUsername:     getEnv("APP_USERNAME", ""),
		AppPasswordHash: getEnv("APP_PASSWORD_HASH", ""),
		SessionSecret:   getEnv("SESSION_SECRET", ""),

		RedisURL: getEnv("REDIS_URL", "redis://127.0.0.1:6379/0"),

		ReviewThreshold: getEnvAsInt("REVIEW_THRESHOLD", 80),
		MaxIterations:   getEnvAsInt("MAX_ITERATIONS", 3),

		MonitorIntervalSeconds: getEnvAsInt("MONITOR_INTERVAL_SECONDS", 60),
		StuckDeadlineMinutes:   getEnvAsInt("STUCK_DEADLINE_MINUTES", 15),

		OutputDir:        getEnv("OUTPUT_DIR", "output"),
		JobResultBaseURL: getEnv("JOB_RESULT_BASE_URL", ""),

		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:  getEnv("OPENAI_MODEL", "gpt-4o-mini"),

		GitHubToken:    getEnv("GITHUB_TOKEN", ""),
		GitHubUsername: getEnv("GITHUB_USERNAME", ""),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.ReviewThreshold < 0 || c.ReviewThreshold > 100 {
		return fmt.Errorf("REVIEW_THRESHOLD must be between 0 and 100, got %d", c.ReviewThreshold)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("MAX_ITERATIONS must be at least 1, got %d", c.MaxIterations)
	}
	if c.MonitorIntervalSeconds < 1 {
		return fmt.Errorf("MONITOR_INTERVAL_SECONDS must be at least 1, got %d", c.MonitorIntervalSeconds)
	}
	if c.StuckDeadlineMinutes < 1 {
		return fmt.Errorf("STUCK_DEADLINE_MINUTES must be at least 1, got %d", c.StuckDeadlineMinutes)
	}

	// ローカル開発では認証・APIキーは任意
	// 本番環境では厳格にチェックする想定
	if c.GinMode == "release" {
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required in release mode")
		}
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required in release mode")
		}
	}

	return nil
}

// AuthEnabled は認証が構成されているかどうかを返します。
func (c *Config) AuthEnabled() bool {
	return c.AppUsername != "" && c.AppPasswordHash != ""
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
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
