package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jo-hoe/contentdesk/internal/backend/auth"
	"github.com/jo-hoe/contentdesk/internal/backend/billing"
	"github.com/jo-hoe/contentdesk/internal/backend/changetracker"
	"github.com/jo-hoe/contentdesk/internal/backend/database"
	"github.com/jo-hoe/contentdesk/internal/backend/media"
	"github.com/jo-hoe/contentdesk/internal/backend/realtime"
	"github.com/jo-hoe/contentdesk/internal/backend/runpod"
	"github.com/jo-hoe/contentdesk/internal/backend/scheduler"
	"github.com/jo-hoe/contentdesk/internal/backend/storage"
)

// CoreService holds the domain operations behind the HTTP API and the ops CLI.
type CoreService struct {
	config          *ServiceConfig
	databaseService database.DatabaseService
	broker          realtime.Broker
	notifier        *realtime.Notifier
	tokens          *realtime.TokenIssuer
	tracker         *changetracker.Tracker
	verifier        *auth.Verifier
	runpod          *runpod.Client
	signer          *runpod.WebhookSigner
	objects         storage.ObjectStore
	pipeline        *media.Pipeline
	billing         *billing.WebhookHandler
	posts           *scheduler.PostScheduler
	now             func() time.Time
}

// NewCoreService wires every component from config. Close releases them.
func NewCoreService(ctx context.Context, config *ServiceConfig) (*CoreService, error) {
	databaseService, err := getDatabaseService(config)
	if err != nil {
		return nil, err
	}
	service := &CoreService{
		config:          config,
		databaseService: databaseService,
		now:             time.Now,
	}
	if err := service.init(ctx); err != nil {
		_ = service.Close()
		return nil, err
	}
	return service, nil
}

func (service *CoreService) init(ctx context.Context) error {
	config := service.config
	var err error

	var relay realtime.Broker
	if config.Realtime.RedisAddr != "" {
		redisBroker, err := realtime.NewRedisBroker(ctx, config.Realtime.RedisAddr, config.Realtime.RedisPassword,
			config.Realtime.RedisDB, config.Realtime.BufferSize)
		if err != nil {
			return err
		}
		service.broker = redisBroker
		relay = redisBroker
		slog.Info("realtime events fan out through redis", "addr", config.Realtime.RedisAddr)
	} else {
		service.broker = realtime.NewLocalBroker(config.Realtime.BufferSize)
		slog.Info("realtime events stay in process, redis not configured")
	}
	service.notifier = realtime.NewNotifier(service.broker)
	service.tracker = changetracker.NewTracker(changetracker.NewRegistry(0), relay)

	if service.tokens, err = realtime.NewTokenIssuer(config.Realtime.TokenSecret, config.Realtime.TokenTTL); err != nil {
		return err
	}

	if config.Auth.JWKSURL != "" {
		service.verifier, err = auth.NewJWKSVerifier(ctx, config.Auth.JWKSURL, config.Auth.Issuer)
	} else {
		service.verifier, err = auth.NewHMACVerifier(config.Auth.HMACSecret, config.Auth.Issuer)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize session verifier: %w", err)
	}

	service.runpod = runpod.NewClient(config.RunPod.BaseURL, config.RunPod.APIKey, config.RunPod.Timeout)
	if len(config.RunPod.Endpoints) > 0 {
		if service.signer, err = runpod.NewWebhookSigner(config.PublicURL, config.RunPod.WebhookSecret); err != nil {
			return err
		}
	}

	if service.objects, err = getObjectStore(ctx, config.Storage); err != nil {
		return err
	}
	if service.pipeline, err = media.NewPipeline(config.Media); err != nil {
		return err
	}

	if config.Billing.WebhookSecret != "" {
		service.billing = billing.NewWebhookHandler(config.Billing.WebhookSecret, service.databaseService, config.Billing.PlanByPrice)
	}

	var poster scheduler.Poster = scheduler.LogPoster{}
	if config.Scheduler.GraphURL != "" {
		poster = scheduler.NewGraphPoster(config.Scheduler.GraphURL, config.Scheduler.GraphAccessToken, 0)
	}
	service.posts = scheduler.NewPostScheduler(service.databaseService, poster, service.objects, service.tracker,
		config.Scheduler.Concurrency)
	return nil
}

func (service *CoreService) Config() *ServiceConfig {
	return service.config
}

func (service *CoreService) Database() database.DatabaseService {
	return service.databaseService
}

func (service *CoreService) Verifier() *auth.Verifier {
	return service.verifier
}

func (service *CoreService) Tracker() *changetracker.Tracker {
	return service.tracker
}

func (service *CoreService) Tokens() *realtime.TokenIssuer {
	return service.tokens
}

// SessionHook upserts the session user and loads its platform role.
func (service *CoreService) SessionHook() auth.SessionHook {
	return auth.EnsureUser(service.databaseService, service.config.Auth.DefaultRole)
}

// SweepPosts publishes every due scheduled post.
func (service *CoreService) SweepPosts(ctx context.Context) error {
	result, err := service.posts.Sweep(ctx)
	if err != nil {
		return err
	}
	if result.Published+result.Failed > 0 {
		slog.Info("scheduled posts swept", "published", result.Published, "failed", result.Failed)
	}
	return nil
}

// SweepChanges evicts change records older than the configured TTL.
func (service *CoreService) SweepChanges(context.Context) error {
	service.tracker.Sweep(service.config.ChangeTracker.TTL)
	return nil
}

func (service *CoreService) Close() error {
	var errs []error
	if service.tracker != nil {
		service.tracker.Close()
	}
	if service.broker != nil {
		errs = append(errs, service.broker.Close())
	}
	if service.databaseService != nil {
		errs = append(errs, service.databaseService.Close())
	}
	return errors.Join(errs...)
}

func getDatabaseService(config *ServiceConfig) (database.DatabaseService, error) {
	databaseService, err := database.NewDatabase(config.Database.Type, config.Database.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("database initialized successfully", "type", config.Database.Type)
	return databaseService, nil
}

func getObjectStore(ctx context.Context, config StorageConfig) (storage.ObjectStore, error) {
	if config.Type == "s3" {
		return storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          config.Bucket,
			Region:          config.Region,
			Endpoint:        config.Endpoint,
			AccessKeyID:     config.AccessKeyID,
			SecretAccessKey: config.SecretAccessKey,
			UsePathStyle:    config.UsePathStyle,
		})
	}
	bucket := config.Bucket
	if bucket == "" {
		bucket = "contentdesk"
	}
	return storage.NewMemoryStore(bucket), nil
}

func (service *CoreService) presignTTL() time.Duration {
	if service.config.Storage.PresignTTL > 0 {
		return service.config.Storage.PresignTTL
	}
	return storage.DefaultPresignTTL
}
