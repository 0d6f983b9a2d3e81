package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"msg_client/client/chat/api"
	"msg_client/client/chat/merge"
	"msg_client/client/chat/reconnect"
	"msg_client/client/chat/service"
	"msg_client/client/chat/transport"
	"msg_client/client/common/infra/cache"
	"msg_client/client/common/infra/mq"
	"msg_client/client/common/infra/object"
	"msg_client/client/common/infra/rest"
	"msg_client/client/common/log"
	"msg_client/client/common/middleware"
)

// App is a connection manager plus everything around it: the local HTTP
// bridge and the optional Redis, LavinMQ and MinIO integrations.
type App struct {
	Config     Config
	Manager    *service.Manager
	Metrics    *service.Metrics
	HTTPServer *http.Server
	Redis      *redis.Client
	MQConn     *amqp.Connection
	MQChannel  *amqp.Channel

	stopSidecars context.CancelFunc
	sidecars     sync.WaitGroup
}

func NewApp(cfg Config) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Configure(log.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, FilePath: cfg.LogFile})
	a := &App{Config: cfg, Metrics: service.NewMetrics()}

	opts := service.Options{
		Reconnect:     cfg.reconnectConfig(),
		QueueCapacity: cfg.QueueCapacity,
		RateCapacity:  cfg.RateCapacity,
		RateInterval:  cfg.RateInterval,
		Limits:        merge.Limits{Live: cfg.LiveMessageCap, Bulk: cfg.BulkMessageCap},
		Dial:          transport.NewWebSocketSession,
		Scheduler:     reconnect.SystemScheduler,
		Metrics:       a.Metrics,
	}
	if len(cfg.APIEndpoints) > 0 {
		opts.Backend = service.NewHTTPBackend(rest.NewClient(cfg.APIEndpoints...))
	}
	if cfg.RefreshEndpoint != "" {
		refresh, err := service.NewHTTPRefresher(cfg.RefreshEndpoint, func() string {
			if a.Manager == nil {
				return cfg.Credential
			}
			return a.Manager.Credential()
		})
		if err != nil {
			return nil, fmt.Errorf("initialize refresher: %w", err)
		}
		opts.Refresh = refresh
	}
	if cfg.MinioEndpoint != "" {
		store, err := a.openAttachmentStore(ctx)
		if err != nil {
			return nil, err
		}
		opts.Attachments = store
	}

	if cfg.RedisAddr != "" {
		rdb, err := cache.Open(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		a.Redis = rdb
	}
	if cfg.LavinMQURL != "" {
		conn, err := mq.NewConnection(cfg.LavinMQURL)
		if err != nil {
			a.closeInfra()
			return nil, fmt.Errorf("initialize lavinmq: %w", err)
		}
		a.MQConn = conn
		ch, err := mq.OpenTopic(conn, service.EventsExchange)
		if err != nil {
			a.closeInfra()
			return nil, fmt.Errorf("initialize amqp channel: %w", err)
		}
		a.MQChannel = ch
	}

	a.Manager = service.NewManager(opts)
	a.startSidecars()

	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.LocalOnly {
		r.Use(middleware.LocalOnly())
	}
	api.NewHandler(a.Manager, a.Metrics).RegisterRoutes(r)

	a.HTTPServer = &http.Server{
		Addr:        cfg.bridgeAddr(),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// event streams stay open; no write timeout
		IdleTimeout: 60 * time.Second,
	}

	if credential := strings.TrimSpace(cfg.Credential); credential != "" {
		if err := a.Manager.Connect(credential); err != nil {
			_ = a.Shutdown(ctx)
			return nil, fmt.Errorf("initial connect: %w", err)
		}
	}
	return a, nil
}

func (a *App) openAttachmentStore(ctx context.Context) (*service.ObjectAttachmentStore, error) {
	client, err := object.NewClient(a.Config.MinioEndpoint, a.Config.MinioAccessKey, a.Config.MinioSecretKey, a.Config.MinioUseSSL)
	if err != nil {
		return nil, fmt.Errorf("initialize minio: %w", err)
	}
	if err := object.EnsureBucket(ctx, client, a.Config.MinioBucket); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", a.Config.MinioBucket, err)
	}
	return service.NewObjectAttachmentStore(client, a.Config.MinioBucket), nil
}

func (a *App) startSidecars() {
	ctx, cancel := context.WithCancel(context.Background())
	a.stopSidecars = cancel

	if a.Redis != nil {
		mirror := service.NewRedisMirror(a.Redis, a.Config.RedisPrefix)
		a.runSidecar(ctx, "redis_mirror", mirror.Run)
	}
	if a.MQChannel != nil {
		forwarder := service.NewAMQPForwarder(a.MQChannel, a.Manager.Credential)
		a.runSidecar(ctx, "amqp_forwarder", forwarder.Run)
	}
}

func (a *App) runSidecar(ctx context.Context, name string, run func(context.Context, service.Feed)) {
	feed, cancel := a.Manager.Feed()
	a.sidecars.Add(1)
	go func() {
		defer a.sidecars.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				log.Exceptionf("event=sidecar_panic name=%s err=%v", name, r)
			}
		}()
		log.Infof("event=sidecar_start name=%s", name)
		run(ctx, feed)
		log.Infof("event=sidecar_stop name=%s", name)
	}()
}

func (a *App) Shutdown(ctx context.Context) error {
	if a.stopSidecars != nil {
		a.stopSidecars()
	}
	a.sidecars.Wait()
	if a.Manager != nil {
		a.Manager.Destroy()
	}
	a.closeInfra()
	if a.HTTPServer == nil {
		return nil
	}
	return a.HTTPServer.Shutdown(ctx)
}

func (a *App) closeInfra() {
	if a.MQChannel != nil {
		_ = a.MQChannel.Close()
	}
	if a.MQConn != nil {
		_ = a.MQConn.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
}
