package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/hitoshi/subtrack/internal/auth"
	"github.com/hitoshi/subtrack/internal/calendar"
	"github.com/hitoshi/subtrack/internal/config"
	"github.com/hitoshi/subtrack/internal/database"
	"github.com/hitoshi/subtrack/internal/handler"
	"github.com/hitoshi/subtrack/internal/logger"
	"github.com/hitoshi/subtrack/internal/metrics"
	"github.com/hitoshi/subtrack/internal/middleware"
	"github.com/hitoshi/subtrack/internal/notify"
	"github.com/hitoshi/subtrack/internal/repository"
	"github.com/hitoshi/subtrack/internal/security"
	"github.com/hitoshi/subtrack/internal/subscription"
	syncpkg "github.com/hitoshi/subtrack/internal/sync"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// coreServices はserveとworkerが共有するドメインサービス一式。
type coreServices struct {
	registry   *prometheus.Registry
	collector  *metrics.Collector
	subRepo    *repository.PostgresSubscriptionRepo
	setRepo    *repository.PostgresSettingsRepo
	reconciler *syncpkg.Reconciler
	subService *subscription.Service
}

// buildCoreServices はDB接続の上にドメインサービスをワイヤリングする。
func buildCoreServices(cfg *config.Config, db *sql.DB) *coreServices {
	// 1. リポジトリの初期化
	subRepo := repository.NewPostgresSubscriptionRepo(db)
	setRepo := repository.NewPostgresSettingsRepo(db)

	// 2. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewTextSanitizer()

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. カレンダー連携の初期化
	tokens := auth.NewGoogleTokenProvider(auth.GoogleTokenConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RefreshToken: cfg.GoogleRefreshToken,
		TokenURL:     cfg.GoogleTokenURL,
	})
	store := calendar.NewGoogleEventStore(calendar.GoogleStoreConfig{
		BaseURL:           cfg.CalendarAPIBaseURL,
		Timeout:           cfg.CalendarTimeout,
		RequestsPerSecond: cfg.CalendarRequestsPerSecond,
	})
	reconciler := syncpkg.NewReconciler(
		subRepo, setRepo, store, tokens, collector, slog.Default(),
		syncpkg.Config{DedicatedCalendarName: cfg.DedicatedCalendarName},
	)

	// 5. サブスクリプションサービスの初期化
	favicons := subscription.NewFaviconFetcher(ssrfGuard)
	subService := subscription.NewService(
		subRepo, setRepo, reconciler, sanitizer, favicons, slog.Default(),
	)

	return &coreServices{
		registry:   registry,
		collector:  collector,
		subRepo:    subRepo,
		setRepo:    setRepo,
		reconciler: reconciler,
		subService: subService,
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. ドメインサービスのワイヤリング
	core := buildCoreServices(cfg, db)

	// 3. レート制限の初期化（configはreq/min単位なのでreq/secに変換する）
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.SyncRate = rate.Limit(float64(cfg.RateLimitSync) / 60.0)
	rateLimiterCfg.SyncBurst = cfg.RateLimitSync
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	// 4. ルーターの構築
	deps := &handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),

		SubscriptionService: core.subService,
		ReportService:       core.subService,
		SyncService:         core.reconciler,
		SettingsStore:       core.setRepo,

		MetricsGatherer: core.registry,
	}

	router := handler.NewRouter(deps)

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// cronスケジュールに従い、リマインダースキャンと夜間の一括カレンダー同期を実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. ドメインサービスのワイヤリング
	core := buildCoreServices(cfg, db)

	// 3. リマインダースキャナの初期化
	scanner := notify.NewScanner(
		core.subRepo, core.setRepo,
		notify.NewSlogNotifier(slog.Default()),
		core.collector, slog.Default(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. cronジョブの登録
	c := cron.New()

	_, err = c.AddFunc(cfg.ReminderSchedule, func() {
		sent, err := scanner.Run(ctx)
		if err != nil {
			slog.Error("reminder scan failed", slog.String("error", err.Error()))
			return
		}
		slog.Info("reminder scan completed", slog.Int("sent", sent))
	})
	if err != nil {
		return fmt.Errorf("invalid reminder schedule %q: %w", cfg.ReminderSchedule, err)
	}

	_, err = c.AddFunc(cfg.SyncSchedule, func() {
		// 自動同期が無効化されていればスキップする
		settings, err := core.setRepo.Load(ctx)
		if err != nil {
			slog.Error("failed to load settings for nightly sync", slog.String("error", err.Error()))
			return
		}
		if !settings.CalendarAutoSyncAll {
			slog.Info("nightly sync skipped: auto sync disabled")
			return
		}

		// 夜間バッチは非対話モード。キャッシュ済みトークンがなければ静かに失敗する。
		result, err := core.reconciler.ReconcileAll(ctx, false)
		if err != nil {
			slog.Error("nightly sync failed", slog.String("error", err.Error()))
			return
		}
		slog.Info("nightly sync completed",
			slog.Int("ok", result.OKCount),
			slog.Int("fail", result.FailCount),
		)
	})
	if err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", cfg.SyncSchedule, err)
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	slog.Info("worker starting",
		slog.String("reminder_schedule", cfg.ReminderSchedule),
		slog.String("sync_schedule", cfg.SyncSchedule),
	)

	c.Start()

	<-stop
	slog.Info("shutting down worker...")
	cancel()

	// 実行中のジョブの完了を待つ
	<-c.Stop().Done()

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
