// Package app assembles the matching engines and their infrastructure from
// configuration. Both binaries build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"companion-workers/internal/changefeed"
	"companion-workers/internal/common/auth"
	cwaws "companion-workers/internal/common/aws"
	"companion-workers/internal/common/config"
	"companion-workers/internal/common/database"
	"companion-workers/internal/common/logger"
	"companion-workers/internal/common/observability"
	"companion-workers/internal/dedup"
	"companion-workers/internal/matching/cooling"
	"companion-workers/internal/matching/effects"
	"companion-workers/internal/matching/interest"
	"companion-workers/internal/matching/limits"
	"companion-workers/internal/matching/prematch"
	"companion-workers/internal/matching/session"
	"companion-workers/internal/matching/stage"
	"companion-workers/internal/models"
	"companion-workers/internal/notify"
	"companion-workers/internal/search"
	"companion-workers/internal/store/postgres"
	"companion-workers/internal/suggest"
	"companion-workers/migrations"
)

// MessagePublisher correlates workflow messages. *camunda.Client satisfies it.
type MessagePublisher interface {
	PublishMessage(ctx context.Context, name, key, messageID string, ttl time.Duration, vars interface{}) error
}

// signalTTL is how long the broker buffers a signal no process is waiting on yet.
const signalTTL = 24 * time.Hour

type App struct {
	Config *config.Config
	Obs    *observability.Observability

	Postgres      *database.PostgresClient
	Redis         *database.RedisClient
	Elasticsearch *database.ElasticsearchClient
	Store         *postgres.Store

	Hub      *changefeed.Hub
	Producer *changefeed.Producer
	Effects  *effects.Runner
	Notifier *notify.Dispatcher
	Reviews  *search.ReviewQueue

	Interests *interest.Engine
	Stages    *stage.Engine
	Cooling   *cooling.Service
	Detector  *stage.CompletionDetector
	// Messages, when set, receives stage and journey completion signals.
	Messages MessagePublisher

	logger  logger.Logger
	closers []func() error
}

// Retry runs op until it succeeds, doubling the delay between attempts.
func Retry(ctx context.Context, op func() error, attempts int, delay time.Duration, log logger.Logger, name string) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = op(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		log.Warn(name+" failed, retrying", map[string]interface{}{
			"error": err.Error(), "attempt": i + 1, "maxAttempts": attempts, "nextRetryIn": delay.String(),
		})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, attempts, err)
}

// New connects to postgres and redis, then builds the engines. Optional
// integrations (kafka, elasticsearch, AWS, keycloak, genai) are wired only
// when enabled.
func New(ctx context.Context, cfg *config.Config, obs *observability.Observability, log logger.Logger) (*App, error) {
	a := &App{Config: cfg, Obs: obs, logger: logger.ForComponent(log, "app")}

	err := Retry(ctx, func() error {
		pg, err := database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		if err := pg.Ping(ctx); err != nil {
			_ = pg.Close()
			return err
		}
		a.Postgres = pg
		return nil
	}, 15, 2*time.Second, log, "postgres connection")
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Postgres.Close)
	if cfg.Database.Postgres.AutoMigrate {
		applied, err := database.Migrate(ctx, a.Postgres.DB, migrations.FS)
		if err != nil {
			a.Close()
			return nil, err
		}
		if len(applied) > 0 {
			a.logger.Info("schema migrated", map[string]interface{}{"applied": applied})
		}
	}
	a.Store = postgres.New(a.Postgres.DB)

	rdb, err := database.NewRedis(cfg.Database.Redis)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := Retry(ctx, func() error { return rdb.Ping(ctx) }, 10, time.Second, log, "redis connection"); err != nil {
		_ = rdb.Close()
		a.Close()
		return nil, err
	}
	a.Redis = rdb
	a.closers = append(a.closers, rdb.Close)

	if err := a.wire(ctx, log); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, log logger.Logger) error {
	cfg := a.Config
	m := cfg.Matching

	a.Hub = changefeed.NewHub(log)
	var publisher effects.Publisher = a.Hub
	if cfg.Kafka.Enabled {
		a.Producer = changefeed.NewProducer(changefeed.NewKafkaWriter(cfg.Kafka), log)
		a.closers = append(a.closers, a.Producer.Close)
		// the local hub is fed by the consumer so every replica sees the same stream
		publisher = a.Producer
	}

	notifyDeps := notify.Deps{Store: a.Store, Publisher: publisher}
	if cfg.Notifications.Push.Enabled {
		push, err := cwaws.NewSNSClient(ctx, cfg.Notifications.AWS.Region, cfg.Notifications.Push.TopicARN)
		if err != nil {
			return fmt.Errorf("sns client: %w", err)
		}
		notifyDeps.Push = push
	}
	if cfg.Notifications.Email.Enabled {
		email, err := cwaws.NewSESClient(ctx, cfg.Notifications.AWS.Region, cfg.Notifications.Email.FromEmail)
		if err != nil {
			return fmt.Errorf("ses client: %w", err)
		}
		notifyDeps.Email = email
	}
	if k := cfg.APIs.Keycloak; k.Enabled {
		notifyDeps.Directory = auth.NewKeycloakClient(k.BaseURL, k.Realm, k.ClientID, k.ClientSecret, nil)
	}
	a.Notifier = notify.NewDispatcher(notifyDeps, log)

	a.Effects = effects.NewRunner(effects.Config{
		Attempts: m.SideEffectAttempts,
		Backoff:  config.GetDuration(m.SideEffectBackoff),
	}, a.Store, a.Notifier, publisher, log)

	catalog := stage.DefaultCatalog()
	stageDeps := stage.Deps{Store: a.Store, Effects: a.Effects}
	if s := suggest.FromConfig(cfg.APIs, log); s != nil {
		stageDeps.Suggester = s
	}
	a.Stages = stage.NewEngine(stage.Config{Catalog: catalog}, stageDeps, log)
	a.Detector = stage.NewCompletionDetector(a.Stages, log)

	interestDeps := interest.Deps{Store: a.Store, Effects: a.Effects}
	if cfg.Database.Elasticsearch.Enabled {
		es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		a.Elasticsearch = es
		a.Reviews = search.NewReviewQueue(es.Client, cfg.Database.Elasticsearch.ReviewIndex, log)
		interestDeps.Reviews = a.Reviews
	}
	a.Interests = interest.NewEngine(interest.Config{
		Ceilings: limits.Ceilings{Youth: m.YouthCeiling, Elderly: m.ElderlyCeiling},
		Holds:    prematch.Holds{MinDays: m.MinHoldDays, MaxDays: m.MaxHoldDays},
		Catalog:  catalog,
	}, interestDeps, log)

	a.Cooling = cooling.NewService(cooling.Config{
		Cooldown: m.Cooldown(),
		Policy:   cooling.Policy(m.PostCooldownAction),
	}, cooling.Deps{Store: a.Store, Effects: a.Effects, Progress: a.Stages}, log)
	return nil
}

// detectorHandler adapts the completion detector to the change-feed consumer.
func (a *App) detectorHandler() changefeed.Handler {
	return changefeed.HandlerFunc(func(ctx context.Context, ev models.ChangeEvent) error {
		sig, err := a.Detector.HandleEvent(ctx, ev)
		if err != nil {
			return err
		}
		if sig != nil {
			a.logger.Info("stage completion signalled", map[string]interface{}{
				"kind": sig.Kind, "relationshipId": sig.RelationshipID, "stage": string(sig.Stage),
			})
			if a.Messages != nil {
				err := publishSignal(ctx, a.Messages, sig)
				a.Obs.RecordSignal(ctx, sig.Kind, err)
				return err
			}
		}
		return nil
	})
}

// publishSignal forwards sig to the relationship's process instance. The
// message id repeats for a repeated signal so the broker drops duplicates.
func publishSignal(ctx context.Context, p MessagePublisher, sig *stage.Signal) error {
	id := sig.RelationshipID + ":" + string(sig.Stage) + ":" + sig.Kind
	if err := p.PublishMessage(ctx, sig.Kind, sig.RelationshipID, id, signalTTL, sig); err != nil {
		return fmt.Errorf("publish %s for %s: %w", sig.Kind, sig.RelationshipID, err)
	}
	return nil
}

// RunChangeFeed drives the completion detector and the local hub until ctx
// is done. With kafka enabled it consumes the shared topic as part of the
// configured group; otherwise it listens on the in-process hub.
func (a *App) RunChangeFeed(ctx context.Context) error {
	handler := a.detectorHandler()
	if a.Config.Kafka.Enabled {
		reader := changefeed.NewKafkaReader(a.Config.Kafka)
		defer reader.Close()
		seen := dedup.NewRedisSeenSet(a.Redis.Client, a.Redis.Key("changefeed"), config.GetDuration(a.Config.Kafka.DedupTTL))
		return changefeed.NewConsumer(reader, seen, a.Hub, a.logger, handler).Run(ctx)
	}

	sub := a.Hub.Subscribe(nil, 256)
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := handler.HandleEvent(ctx, ev); err != nil {
				a.logger.Error("change event handling failed", map[string]interface{}{
					"eventId": ev.ID, "kind": string(ev.Kind), "error": err.Error(),
				})
			}
		}
	}
}

// Follow feeds the local hub from the shared topic without running any
// handlers. It is a no-op that waits for ctx when kafka is disabled, since
// then only this process's own writes reach the hub.
func (a *App) Follow(ctx context.Context, group string) error {
	if !a.Config.Kafka.Enabled {
		<-ctx.Done()
		return nil
	}
	reader := changefeed.NewTailReader(a.Config.Kafka, group)
	defer reader.Close()
	return changefeed.NewConsumer(reader, dedup.NewMemorySeenSet(time.Hour), a.Hub, a.logger).Run(ctx)
}

// NewSession opens a per-user view with its own milestone tracker so each
// milestone is shown to the session once.
func (a *App) NewSession(userID string) *session.Session {
	tracker := stage.NewMilestoneTracker(a.Config.Matching.MilestoneDays, dedup.NewMemorySeenSet(0), nil, a.logger)
	return session.NewSession(userID, session.Deps{
		Relationships: a.Store,
		Stages:        a.Stages,
		Cooling:       a.Cooling,
		Milestones:    tracker,
		Hub:           a.Hub,
	}, a.logger)
}

// Ready pings the stores in use.
func (a *App) Ready(ctx context.Context) error {
	if err := a.Postgres.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if err := a.Redis.Ping(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if a.Elasticsearch != nil {
		if err := a.Elasticsearch.Ping(ctx); err != nil {
			return fmt.Errorf("elasticsearch: %w", err)
		}
	}
	return nil
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
