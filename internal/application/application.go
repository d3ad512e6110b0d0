package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/psds-microservice/ticket-intake-service/internal/assign"
	"github.com/psds-microservice/ticket-intake-service/internal/classify"
	"github.com/psds-microservice/ticket-intake-service/internal/config"
	"github.com/psds-microservice/ticket-intake-service/internal/database"
	"github.com/psds-microservice/ticket-intake-service/internal/extract"
	"github.com/psds-microservice/ticket-intake-service/internal/handler"
	"github.com/psds-microservice/ticket-intake-service/internal/kafka"
	"github.com/psds-microservice/ticket-intake-service/internal/llm"
	"github.com/psds-microservice/ticket-intake-service/internal/notify"
	"github.com/psds-microservice/ticket-intake-service/internal/resolve"
	"github.com/psds-microservice/ticket-intake-service/internal/router"
	"github.com/psds-microservice/ticket-intake-service/internal/service"
	"github.com/psds-microservice/ticket-intake-service/internal/similarity"
	"github.com/psds-microservice/ticket-intake-service/internal/taxonomy"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Core: собранные зависимости сервиса, общие для API и CLI-команд.
type Core struct {
	DB       *gorm.DB
	Service  *service.TicketService
	Embedder llm.Embedder
	Producer *kafka.Producer
	Notifier *notify.Notifier
	Log      *zap.Logger
}

// NewCore открывает базу и собирает конвейер. Без GENAI_API_KEY извлечение работает
// эвристически, а поиск похожих тикетов деградирует.
func NewCore(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	db, err := database.Open(cfg.DSN(), log)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	tax := taxonomy.Default()
	if cfg.TaxonomyFile != "" {
		if tax, err = taxonomy.Load(cfg.TaxonomyFile); err != nil {
			return nil, fmt.Errorf("taxonomy: %w", err)
		}
	}

	var (
		completer llm.Completer
		embedder  llm.Embedder
	)
	if cfg.GenAIAPIKey != "" {
		client, err := llm.NewClient(ctx, llm.Config{
			APIKey:         cfg.GenAIAPIKey,
			Model:          cfg.LLMModel,
			EmbeddingModel: cfg.EmbeddingModel,
			Timeout:        cfg.LLMTimeout,
		})
		if err != nil {
			return nil, err
		}
		completer, embedder = client, client
	} else {
		log.Warn("llm: GENAI_API_KEY not set, using heuristic extraction without similarity search")
	}

	producer := kafka.NewProducer(cfg.KafkaBrokers, kafka.Topics{
		Ticket:       cfg.KafkaTopicTicket,
		Notification: cfg.KafkaTopicNotification,
	}, log)
	var sender notify.Sender
	if producer.Enabled() {
		sender = notify.NewKafkaSender(producer)
	} else {
		log.Info("kafka: KAFKA_BROKERS not set, ticket events and notifications disabled")
	}

	notifier := notify.NewNotifier(sender, log)
	svc := service.NewTicketService(service.Deps{
		DB:         db,
		Taxonomy:   tax,
		Extractor:  extract.NewExtractor(completer, tax, log),
		Similarity: similarity.NewEngine(embedder, similarity.NewGormIndex(db, log), cfg.SimilarTicketsK, log),
		Classifier: classify.New(tax, cfg.ClassificationMinShare),
		Resolver:   resolve.NewGenerator(completer, log),
		Assigner:   assign.NewEngine(db, tax, log),
		Notifier:   notifier,
		Events:     producer,
		Logger:     log,
		SimilarK:   cfg.SimilarTicketsK,
	})
	return &Core{DB: db, Service: svc, Embedder: embedder, Producer: producer, Notifier: notifier, Log: log}, nil
}

func (c *Core) Close() {
	// очередь уведомлений сливается до закрытия продюсера
	c.Notifier.Close()
	if err := c.Producer.Close(); err != nil {
		c.Log.Warn("kafka: close", zap.Error(err))
	}
	if sqlDB, err := c.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// API приложение: HTTP-сервер и фоновый воркер (режим api).
type API struct {
	cfg     *config.Config
	core    *Core
	httpSrv *http.Server
	worker  *Worker
}

// NewAPI применяет миграции и создаёт приложение для режима api.
func NewAPI(ctx context.Context, cfg *config.Config, log *zap.Logger) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := database.MigrateUp(cfg.DatabaseURL(), log); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	core, err := NewCore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	h := router.New(
		handler.NewTicketHandler(core.Service, log),
		handler.NewHealthHandler(core.DB),
		log,
	)
	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// конвейер включает вызовы LLM и эмбеддингов
		WriteTimeout: 2*cfg.LLMTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &API{
		cfg:     cfg,
		core:    core,
		httpSrv: httpSrv,
		worker:  NewWorker(core.Service, cfg.RetryInterval, cfg.AutoCloseAfter, log),
	}, nil
}

// Run запускает HTTP-сервер и воркер, блокируется до отмены ctx.
func (a *API) Run(ctx context.Context) error {
	log := a.core.Log
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	log.Info("HTTP server listening",
		zap.String("addr", a.httpSrv.Addr),
		zap.String("swagger", base+"/swagger"),
		zap.String("api", base+"/api/v1/"))

	workerCtx, stopWorker := context.WithCancel(ctx)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		a.worker.Run(workerCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = fmt.Errorf("http: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("http shutdown: %w", err)
	}
	stopWorker()
	<-workerDone
	a.core.Close()
	return runErr
}
