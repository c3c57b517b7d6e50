// Package app assembles the pipeline: repositories, stores, queues, engines
// and stage workers, run together under one cancellable context.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/textract"

	"github.com/dspopov/fileflow/internal/analyzer"
	"github.com/dspopov/fileflow/internal/antivirus"
	"github.com/dspopov/fileflow/internal/config"
	"github.com/dspopov/fileflow/internal/logging"
	"github.com/dspopov/fileflow/internal/models"
	"github.com/dspopov/fileflow/internal/notify"
	"github.com/dspopov/fileflow/internal/objectstore"
	"github.com/dspopov/fileflow/internal/pipeline/extract"
	"github.com/dspopov/fileflow/internal/pipeline/intake"
	"github.com/dspopov/fileflow/internal/pipeline/route"
	"github.com/dspopov/fileflow/internal/pipeline/scan"
	"github.com/dspopov/fileflow/internal/queue"
	"github.com/dspopov/fileflow/internal/repository"
	"github.com/dspopov/fileflow/internal/repository/files"
	"github.com/dspopov/fileflow/internal/search"
	"github.com/dspopov/fileflow/internal/worker"
)

// App owns every long-running piece of the pipeline.
type App struct {
	config *config.Config
	logger logging.Logger

	manager *repository.PostgresManager

	intakeService *intake.Service
	scanService   *scan.Service
	searchService *search.Service

	workers []*worker.Worker
}

func NewApp(cfg *config.Config) (*App, error) {
	ctx := context.Background()
	logger := logging.NewJSON()

	manager, err := repository.NewPostgresManager(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := manager.RunMigrations(ctx); err != nil {
		return nil, err
	}
	repo := manager.Files()

	store, err := objectstore.NewS3Store(ctx, objectstore.S3Options{
		Region:       cfg.S3Region,
		AccessKey:    cfg.S3RootUser,
		SecretKey:    cfg.S3RootPassword,
		Bucket:       cfg.S3Bucket,
		BaseEndpoint: cfg.S3BaseEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("object store init error: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3RootUser, cfg.S3RootPassword, "")))
	if err != nil {
		return nil, fmt.Errorf("aws config error: %w", err)
	}

	sqsClient := sqs.NewFromConfig(awsCfg)
	scanQueue := queue.NewSQSQueue(sqsClient, cfg.ScanQueueURL, cfg.VisibilityTimeout)
	extractQueue := queue.NewSQSQueue(sqsClient, cfg.ExtractQueueURL, cfg.VisibilityTimeout)
	routeQueue := queue.NewSQSQueue(sqsClient, cfg.RouteQueueURL, cfg.VisibilityTimeout)
	classifyQueue := queue.NewSQSQueue(sqsClient, cfg.ClassifyQueueURL, cfg.VisibilityTimeout)
	deadLetterQueue := queue.NewSQSQueue(sqsClient, cfg.DeadLetterQueueURL, cfg.VisibilityTimeout)

	var notifier notify.Notifier = notify.NopNotifier{}
	if cfg.NotificationTopicARN != "" {
		notifier = notify.NewSNSNotifier(sns.NewFromConfig(awsCfg), cfg.NotificationTopicARN)
	}

	scanner := antivirus.NewClamAV(cfg.VirusDBPath)
	az := analyzer.NewAWSAnalyzer(
		rekognition.NewFromConfig(awsCfg),
		textract.NewFromConfig(awsCfg),
		cfg.S3Bucket,
	)

	app := &App{config: cfg, logger: logger, manager: manager}
	app.intakeService = intake.NewService(store, store, repo, scanQueue, cfg.MaxFileSize, logger)
	app.scanService = scan.NewService(store, repo, scanner, extractQueue, routeQueue, notifier,
		cfg.QuarantinePrefix, cfg.MaxScanSize, cfg.VirusDBMaxAge, logger)
	extractService := extract.NewService(repo, az, cfg.MaxReceiveCount, logger)
	routeService := route.NewService(repo, classifyQueue, logger)
	app.searchService = search.NewService(repo, logger)

	app.workers = buildWorkers(app.scanService, extractService, routeService,
		scanQueue, extractQueue, routeQueue, deadLetterQueue, cfg.WorkerConcurrency, logger)
	return app, nil
}

// buildWorkers binds each stage service to its input queue. All three share
// the one dead-letter queue.
func buildWorkers(scanSvc *scan.Service, extractSvc *extract.Service, routeSvc *route.Service,
	scanQ, extractQ, routeQ, dlq queue.Queue, concurrency int, logger logging.Logger) []*worker.Worker {
	return []*worker.Worker{
		worker.New("scan", scanQ, dlq,
			func(ctx context.Context, msg models.PipelineMessage, _ *queue.Message) error {
				return scanSvc.Handle(ctx, msg)
			}, concurrency, logger),
		worker.New("extract", extractQ, dlq,
			func(ctx context.Context, msg models.PipelineMessage, delivery *queue.Message) error {
				return extractSvc.Handle(ctx, msg, delivery.ReceiveCount)
			}, concurrency, logger),
		worker.New("route", routeQ, dlq,
			func(ctx context.Context, msg models.PipelineMessage, _ *queue.Message) error {
				return routeSvc.Handle(ctx, msg)
			}, concurrency, logger),
	}
}

// Intake exposes the intake service to the transport layer.
func (app *App) Intake() *intake.Service {
	return app.intakeService
}

// Search exposes the search service to the transport layer.
func (app *App) Search() *search.Service {
	return app.searchService
}

// Files exposes the metadata store for record reads.
func (app *App) Files() files.Repository {
	return app.manager.Files()
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// runRefreshLoop refreshes the antivirus signature database on a schedule,
// decoupled from scan traffic.
func (app *App) runRefreshLoop(ctx context.Context) {
	interval := app.config.VirusDBMaxAge
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case at := <-ticker.C:
			if err := app.scanService.HandleSchedule(ctx, models.ScheduleTick{At: at}); err != nil {
				app.logger.Error(ctx, "scheduled refresh failed", "error", err)
			}
		}
	}
}

// Run starts the stage workers and the refresh loop, then blocks until the
// context is cancelled or a termination signal arrives.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting pipeline...")
	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup
	for _, w := range app.workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			w.Run(ctx)
		}(w)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.runRefreshLoop(ctx)
	}()

	wg.Wait()

	if err := app.manager.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err)
	}
	app.logger.Info(ctx, "pipeline stopped")
}
