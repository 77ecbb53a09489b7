// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/yourusername/app-forge/internal/agents"
	"github.com/yourusername/app-forge/internal/auth"
	"github.com/yourusername/app-forge/internal/config"
	"github.com/yourusername/app-forge/internal/generate"
	"github.com/yourusername/app-forge/internal/jobs"
	"github.com/yourusername/app-forge/internal/monitor"
	"github.com/yourusername/app-forge/internal/packager"
	"github.com/yourusername/app-forge/internal/publish"
	"github.com/yourusername/app-forge/internal/telemetry"
	"github.com/yourusername/app-forge/internal/ws"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	gin.SetMode(cfg.GinMode)

	// ジョブストア用のRedis接続
	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatalf("Invalid REDIS_URL: %v", err)
	}
	rdb := redis.NewClient(redisOpt)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		logger.Fatalf("Failed to connect to Redis at %s: %v", cfg.RedisURL, err)
	}
	cancel()
	store := jobs.NewRedisStore(rdb)

	hub := ws.NewHub()

	// 生成コラボレーター
	client, err := agents.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	if err != nil {
		logger.Fatalf("Failed to initialize generation client: %v", err)
	}
	generator := agents.NewCodeGenerator(client)
	controller := generate.NewIterationController(
		agents.NewSpecExtractor(client),
		agents.NewUXPlanner(client),
		generator,
		agents.NewReviewer(client),
		logger,
	)

	// 成果物のパッケージングとテレメトリ
	pack, err := packager.NewService(cfg.OutputDir, cfg.JobResultBaseURL)
	if err != nil {
		logger.Fatalf("Failed to initialize packager: %v", err)
	}
	recorder, err := telemetry.NewRecorder("")
	if err != nil {
		logger.Fatalf("Failed to initialize telemetry: %v", err)
	}

	// GitHub公開は任意機能。トークン未設定なら公開フェーズはスキップされる。
	var publisher generate.Publisher
	if gh := publish.NewGitHubPublisher(cfg.GitHubToken, cfg.GitHubUsername); gh != nil {
		publisher = githubPublisher{gh}
		logger.Printf("GitHub publishing enabled for user %s", cfg.GitHubUsername)
	} else {
		logger.Printf("GitHub publishing disabled (GITHUB_TOKEN not set)")
	}

	pipeline := generate.NewPipeline(store, hub, controller, pack, publisher, recorder, logger)

	manager, err := generate.NewManager(cfg.RedisURL, store, hub, pipeline, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize job manager: %v", err)
	}
	if err := manager.StartWorkers(); err != nil {
		logger.Fatalf("Failed to start workers: %v", err)
	}
	defer manager.Shutdown()

	// スタックジョブ監視
	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	stuck := monitor.New(
		store,
		hub,
		time.Duration(cfg.MonitorIntervalSeconds)*time.Second,
		time.Duration(cfg.StuckDeadlineMinutes)*time.Minute,
		logger,
	)
	go stuck.Run(monitorCtx)

	router := gin.Default()

	// セッションストアの設定
	sessionStore := cookie.NewStore([]byte(sessionSecret(cfg, logger)))
	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteStrictMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, sessionStore))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-CSRF-Token",
	}
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token"}
	router.Use(cors.New(corsConfig))

	handler := generate.NewHandler(manager, store, pack, cfg.ReviewThreshold, cfg.MaxIterations, logger)
	authManager := auth.NewManager(cfg.AppUsername, cfg.AppPasswordHash)
	setupRoutes(router, cfg, handler, authManager, store, hub, logger)

	// シグナルでワーカーとモニターを止めてから終了する
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Printf("Shutting down")
		stopMonitor()
		manager.Shutdown()
		os.Exit(0)
	}()

	addr := ":" + cfg.Port
	logger.Printf("Starting API server on %s (mode: %s)", addr, cfg.GinMode)
	if err := router.Run(addr); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}

// githubPublisher は publish.GitHubPublisher をパイプラインの公開口に適合させます。
type githubPublisher struct {
	gh *publish.GitHubPublisher
}

func (p githubPublisher) Publish(ctx context.Context, jobID, prompt string, files agents.FileSet) (*generate.PublishResult, error) {
	result, err := p.gh.Publish(ctx, jobID, prompt, files)
	if err != nil {
		return nil, err
	}
	return &generate.PublishResult{
		RepoURL:       result.RepoURL,
		DeploymentURL: result.DeploymentURL,
	}, nil
}

// sessionSecret は設定済みの秘密鍵を返します。開発モードで未設定の場合は
// 固定のプレースホルダーを使用します（リリースモードでは Validate が弾きます）。
func sessionSecret(cfg *config.Config, logger *log.Logger) string {
	if cfg.SessionSecret != "" {
		return cfg.SessionSecret
	}
	logger.Printf("SESSION_SECRET not set, using development default")
	return "app-forge-dev-session-secret"
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "app-forge-api",
		"version": "0.1.0",
	})
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	handler *generate.Handler,
	authManager *auth.Manager,
	store jobs.Store,
	hub *ws.Hub,
	logger *log.Logger,
) {
	router.GET("/health", handleHealth)

	api := router.Group("/api")
	{
		authRoutes := api.Group("/auth")
		{
			authRoutes.POST("/login", authManager.Login)
			authRoutes.POST("/logout",
				authManager.RequireLogin(),
				authManager.VerifyCSRF(),
				authManager.Logout,
			)
			authRoutes.GET("/me", authManager.OptionalLogin(), authManager.Me)
		}

		jobsAPI := api.Group("")
		jobsAPI.Use(authManager.OptionalLogin(), authManager.VerifyCSRF())
		{
			jobsAPI.POST("/generate", handler.Generate)
			jobsAPI.GET("/status/:job_id", handler.Status)
			jobsAPI.GET("/jobs", handler.List)
			jobsAPI.GET("/jobs/:job_id/download", handler.Download)
		}

		wsRoutes := api.Group("/ws")
		{
			wsRoutes.GET("/status/:job_id", ws.JobStatusHandler(store, hub, logger))
			wsRoutes.GET("/jobs", ws.JobListHandler(hub, logger))
		}
	}
}
