package admin

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"

	"github.com/nordfire/munikb/internal/api/handlers"
	"github.com/nordfire/munikb/internal/config"
	"github.com/nordfire/munikb/internal/database"
	"github.com/nordfire/munikb/internal/jobs"
	"github.com/nordfire/munikb/internal/openai"
	"github.com/nordfire/munikb/internal/repository"
	"github.com/nordfire/munikb/internal/server"
	"github.com/nordfire/munikb/internal/service"
	"github.com/nordfire/munikb/internal/storage"
	"github.com/nordfire/munikb/internal/telemetry"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the munikb knowledge store API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize Sentry with tracing if a DSN is configured
	if cfg.SentryDSN != "" {
		// Default to 10% sampling in production, 100% in development
		sampleRate := 0.1
		if cfg.Environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			TracesSampleRate: sampleRate,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := database.NewPoolFromURL(ctx, cfg.DatabaseURL, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	// Run migrations unless --no-migrate flag is set
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	if !cfg.HasOpenAI() {
		return fmt.Errorf("MUNIKB_OPENAI_API_KEY is required: the store cannot embed or analyze without it")
	}

	embeddingClient := openai.NewClientWithConfig(openai.Config{
		APIKey:              cfg.OpenAIAPIKey,
		BaseURL:             cfg.OpenAIBaseURL,
		EmbeddingModel:      goopenai.EmbeddingModel(cfg.EmbeddingModel),
		ChatModel:           cfg.CompletionModel,
		EmbeddingDimensions: cfg.EmbeddingDimension,
		Timeout:             time.Duration(cfg.EmbeddingTimeoutSecs) * time.Second,
		MaxRetries:          cfg.EmbeddingMaxRetries,
	})

	chunkRepo := repository.NewChunkRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	knowledgeSvc := service.NewKnowledgeService(chunkRepo, embeddingClient, txRunner).
		WithGoldenThreshold(cfg.GoldenThreshold).
		WithChunkConfig(service.ChunkConfig{ChunkSize: cfg.ChunkSize, Overlap: cfg.ChunkOverlap})
	analyzer := service.NewFeedbackAnalyzer(knowledgeSvc, embeddingClient).
		WithGoldenThreshold(cfg.GoldenThreshold)
	parser := service.NewResponseParser(knowledgeSvc, embeddingClient)

	var archive *storage.LetterArchive
	if cfg.HasS3() {
		archive, err = storage.NewLetterArchive(ctx, storage.LetterArchiveConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return fmt.Errorf("failed to create letter archive: %w", err)
		}
		if err := archive.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure letter archive bucket: %w", err)
		}
		log.Printf("letter archive bucket '%s' ready", cfg.S3Bucket)
	}

	queue := jobs.NewFeedbackQueue()
	learningProcessor := jobs.NewLearningProcessor(queue, analyzer, cfg.MinFeedbackForLearning)
	learningWorker := jobs.NewWorker(learningProcessor, cfg.LearningInterval)
	go learningWorker.Start(ctx)
	log.Printf("learning worker started (interval %s, min feedback %d)", cfg.LearningInterval, cfg.MinFeedbackForLearning)

	var letterStore handlers.LetterStore
	if archive != nil {
		letterStore = archive
	}

	router := server.NewRouter(server.RouterConfig{
		APIToken:        cfg.APIToken,
		ChunkHandler:    handlers.NewChunkHandler(knowledgeSvc),
		SearchHandler:   handlers.NewSearchHandler(knowledgeSvc),
		FeedbackHandler: handlers.NewFeedbackHandler(queue, analyzer),
		ResponseHandler: handlers.NewResponseHandler(parser, letterStore),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	learningWorker.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

func runMigrations(databaseURL string) error {
	// Create a sql.DB connection for golang-migrate
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
