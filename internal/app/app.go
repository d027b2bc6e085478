// Package app wires the event log, hub, ingest and query services, and both
// listeners into one runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"chaos-organizer/internal/blob"
	"chaos-organizer/internal/config"
	"chaos-organizer/internal/events"
	"chaos-organizer/internal/httpapi"
	"chaos-organizer/internal/idgen"
	"chaos-organizer/internal/ingest"
	"chaos-organizer/internal/query"
	"chaos-organizer/internal/redis"
	"chaos-organizer/internal/store"
	"chaos-organizer/internal/ws"

	"golang.org/x/sync/errgroup"
)

// App owns every long-lived component of the service.
type App struct {
	cfg       *config.Config
	log       *store.EventStore
	hub       *ws.Hub
	publisher events.Publisher

	httpServer *http.Server
	wsServer   *http.Server
}

// New builds the application from cfg and loads the stored log.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	sink, err := newSink(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log := store.New(sink)
	loaded := log.Load(ctx)

	ids := idgen.NewSequence()
	ids.Observe(log.MaxID())

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		log.Close()
		return nil, err
	}

	publisher, err := newPublisher(cfg)
	if err != nil {
		log.Close()
		return nil, err
	}

	hub := ws.NewHub()
	in := ingest.NewService(log, hub, blobs, ids, publisher)
	q := query.NewService(log, cfg.MaxPageSize)

	wsHandler := ws.NewHandler(hub, in, ws.Options{
		MaxMessageSize: cfg.MaxMessageSize,
		SendQueueSize:  cfg.SendQueueSize,
		RateLimit:      cfg.RateLimit,
		RateBurst:      cfg.RateBurst,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	api := httpapi.NewServer(in, q, blobs, log, wsHandler, httpapi.Options{
		MaxUploadSize:  cfg.MaxUploadSize,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	wsMux := http.NewServeMux()
	wsMux.Handle("/", wsHandler)

	slog.Info("[APP] Initialized",
		"events", len(loaded),
		"store", cfg.StoreBackend,
		"blobs", cfg.BlobBackend,
	)

	return &App{
		cfg:        cfg,
		log:        log,
		hub:        hub,
		publisher:  publisher,
		httpServer: &http.Server{Handler: api.Router()},
		wsServer:   &http.Server{Handler: wsMux},
	}, nil
}

// Handler returns the HTTP surface, for mounting in tests.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run listens on the configured ports and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", ":"+strconv.Itoa(a.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	wsLn, err := net.Listen("tcp", ":"+strconv.Itoa(a.cfg.WSPort))
	if err != nil {
		httpLn.Close()
		return fmt.Errorf("listen ws: %w", err)
	}
	return a.Serve(ctx, httpLn, wsLn)
}

// Serve runs both servers on the given listeners. When ctx is cancelled or
// either server fails, both are shut down and every component is closed.
func (a *App) Serve(ctx context.Context, httpLn, wsLn net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("[APP] HTTP server listening", "addr", httpLn.Addr().String())
		if err := a.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("[APP] WebSocket server listening", "addr", wsLn.Addr().String())
		if err := a.wsServer.Serve(wsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ws server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	return g.Wait()
}

func (a *App) shutdown() error {
	slog.Info("[APP] Shutting down", "timeout", a.cfg.ShutdownTimeout)
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.wsServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("ws shutdown: %w", err))
	}
	// Hijacked WebSocket connections are not tracked by Shutdown.
	a.hub.Shutdown()

	if err := a.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}
	if err := a.log.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

func newSink(ctx context.Context, cfg *config.Config) (store.Sink, error) {
	switch cfg.StoreBackend {
	case config.StoreRedis:
		return redis.NewClient(ctx, cfg.RedisURL, cfg.RedisKey)
	default:
		return store.NewFileSink(cfg.DataFile), nil
	}
}

func newBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	switch cfg.BlobBackend {
	case config.BlobS3:
		return blob.NewS3Store(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.S3Region, cfg.S3Endpoint)
	default:
		return blob.NewDiskStore(cfg.UploadDir), nil
	}
}

func newPublisher(cfg *config.Config) (events.Publisher, error) {
	var pubs events.MultiPublisher
	if cfg.NATSURL != "" {
		p, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, p)
	}
	if len(cfg.KafkaBrokers) > 0 {
		p, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, events.KafkaOptions{MaxRetry: 3})
		if err != nil {
			pubs.Close()
			return nil, err
		}
		pubs = append(pubs, p)
	}

	switch len(pubs) {
	case 0:
		return events.NoopPublisher{}, nil
	case 1:
		return pubs[0], nil
	default:
		return pubs, nil
	}
}
