package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/sync/errgroup"

	"github.com/rbright/pulselink/internal/alert"
	"github.com/rbright/pulselink/internal/asr"
	"github.com/rbright/pulselink/internal/config"
	"github.com/rbright/pulselink/internal/fsm"
	"github.com/rbright/pulselink/internal/inbound"
	"github.com/rbright/pulselink/internal/ipc"
	"github.com/rbright/pulselink/internal/listen"
	"github.com/rbright/pulselink/internal/location"
	"github.com/rbright/pulselink/internal/notify"
	"github.com/rbright/pulselink/internal/observe"
	"github.com/rbright/pulselink/internal/pipeline"
	"github.com/rbright/pulselink/internal/sms"
	"github.com/rbright/pulselink/internal/store/sqlite"
)

const (
	locationConnectTimeout = 10 * time.Second
	inboundRetryDelay      = 5 * time.Second
)

// daemon owns every long-lived component of `pulselink run`.
type daemon struct {
	cfg    config.Config
	logger *slog.Logger

	store      *sqlite.DB
	asr        *asr.Client
	notifier   *notify.Notifier
	tracker    *location.Tracker
	redis      *redis.Client
	consumer   *inbound.Consumer
	router     *alert.Router
	supervisor *listen.Supervisor
	control    *controller

	registry      *prometheus.Registry
	meterProvider *sdkmetric.MeterProvider
	health        *observe.Health
}

func newDaemon(cfg config.Config, logger *slog.Logger) (_ *daemon, err error) {
	d := &daemon{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			d.close()
		}
	}()

	storePath, err := cfg.StorePath()
	if err != nil {
		return nil, err
	}
	d.store, err = sqlite.Open(storePath, cfg.SeedSettings())
	if err != nil {
		return nil, err
	}

	d.registry = prometheus.NewRegistry()
	d.meterProvider, err = observe.NewPrometheusProvider(d.registry)
	if err != nil {
		return nil, err
	}
	metrics, err := observe.NewMetrics(d.meterProvider)
	if err != nil {
		return nil, err
	}

	catalog, err := notify.LoadCatalog(cfg.Notify.SoundDir)
	if err != nil {
		logger.Warn("sound catalog unavailable; using synthesized tones", "error", err.Error())
		catalog, _ = notify.LoadCatalog("")
	}
	d.notifier = notify.New(notify.Options{
		Backend:     cfg.Notify.Backend,
		AppName:     cfg.Notify.AppName,
		SoundEnable: cfg.Notify.SoundEnable,
		Player:      cfg.Notify.Player.Argv,
		Logger:      logger,
	})

	d.tracker = location.NewTracker(location.Config{
		Broker:   cfg.Location.Broker,
		Topic:    cfg.Location.Topic,
		ClientID: cfg.Location.ClientID,
		Username: cfg.Location.Username,
		Password: cfg.Location.Password,
		MaxAge:   cfg.Location.MaxAge,
	}, logger)
	var locationProvider alert.LocationProvider
	if d.tracker.Configured() {
		locationProvider = d.tracker
	}

	gateway := sms.NewGateway(sms.Config{
		GatewayURL: cfg.SMS.GatewayURL,
		Token:      cfg.SMS.Token,
		Sender:     cfg.SMS.Sender,
		Timeout:    cfg.SMS.Timeout,
		RetryCount: cfg.SMS.RetryCount,
	}, logger)

	dispatcher := alert.NewDispatcher(alert.DispatcherOptions{
		Logger:          logger,
		Location:        locationProvider,
		SMS:             gateway,
		Notifier:        d.notifier,
		Sounds:          catalog,
		Metrics:         metrics,
		LocationTimeout: cfg.Dispatch.LocationTimeout,
		SMSTimeout:      cfg.Dispatch.SMSTimeout,
		SMSConcurrency:  cfg.Dispatch.SMSConcurrency,
	})

	d.router, err = alert.NewRouter(alert.RouterOptions{
		Logger:   logger,
		Settings: d.store,
		Contacts: d.store,
		Audit:    d.store,
		Sender:   dispatcher,
		Metrics:  metrics,
	})
	if err != nil {
		return nil, err
	}
	ack := acknowledger{inbound: d.router, notifier: d.notifier, logger: logger}

	if cfg.Inbound.RedisAddr != "" {
		d.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Inbound.RedisAddr,
			Password: cfg.Inbound.RedisPassword,
			DB:       cfg.Inbound.RedisDB,
		})
		d.consumer, err = inbound.NewConsumer(d.redis, inbound.Config{
			Stream:   cfg.Inbound.Stream,
			Group:    cfg.Inbound.Group,
			Consumer: cfg.Inbound.Consumer,
		}, ack, logger)
		if err != nil {
			return nil, err
		}
	}

	d.asr, err = asr.NewClient(asr.Config{
		Endpoint:      cfg.Recognizer.GRPC,
		HealthService: cfg.Recognizer.HealthService,
		LanguageCode:  cfg.Recognizer.LanguageCode,
		DialTimeout:   cfg.Recognizer.DialTimeout,
	})
	if err != nil {
		return nil, err
	}
	recognizer := pipeline.NewRecognizer(
		logger,
		pipeline.ASRBackend{Client: d.asr},
		pipeline.PulseSource{Input: cfg.Audio.Input, Fallback: cfg.Audio.Fallback, Logger: logger},
	)

	d.supervisor, err = listen.New(listen.Options{
		Logger:         logger,
		Recognizer:     recognizer,
		Handler:        d.router,
		Gate:           d.store.ListeningEnabled,
		Metrics:        metrics,
		RestartDelay:   cfg.Listen.RestartDelay,
		SessionTimeout: cfg.Listen.SessionTimeout,
	})
	if err != nil {
		return nil, err
	}

	d.control = &controller{
		dispatcher: d.router,
		inbound:    ack,
		supervisor: d.supervisor,
		store:      d.store,
		logger:     logger,
	}

	d.health = observe.NewHealth(
		observe.Checker{Name: "store", Check: d.store.Ping},
		observe.Checker{Name: "listening", Check: d.listeningReady},
	)
	return d, nil
}

// listeningReady fails once the supervisor has given up on the recognizer.
func (d *daemon) listeningReady(context.Context) error {
	status := d.supervisor.Status()
	if status.State == fsm.StateShutdown {
		return fmt.Errorf("supervisor stopped: %s", status.LastError)
	}
	return nil
}

// run serves until ctx is cancelled. A recognizer that reports itself
// unsupported stops voice listening only; triggers, inbound messages and
// the control socket keep working.
func (d *daemon) run(ctx context.Context, listener net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := d.supervisor.Run(gctx)
		if errors.Is(err, listen.ErrRecognizerUnavailable) {
			d.logger.Error("voice listening stopped", "error", err.Error())
			return nil
		}
		return err
	})

	g.Go(func() error {
		return ipc.Serve(gctx, listener, d.control)
	})

	if d.tracker.Configured() {
		g.Go(func() error {
			connectCtx, cancel := context.WithTimeout(gctx, locationConnectTimeout)
			err := d.tracker.Connect(connectCtx)
			cancel()
			if err != nil {
				d.logger.Warn("location tracking unavailable", "error", err.Error())
				return nil
			}
			<-gctx.Done()
			d.tracker.Close()
			return nil
		})
	}

	if d.consumer != nil {
		g.Go(func() error {
			d.runInbound(gctx)
			return nil
		})
	}

	if d.cfg.Observe.ListenAddr != "" {
		g.Go(func() error {
			return observe.Serve(gctx, d.cfg.Observe.ListenAddr, observe.Handler(d.registry, d.health), d.logger)
		})
	}

	d.logger.Info("daemon started",
		"store", d.store.Path(),
		"recognizer", d.cfg.Recognizer.GRPC,
		"notify_backend", d.notifier.Backend(),
		"location", d.tracker.Configured(),
		"inbound", d.consumer != nil,
	)
	err := g.Wait()
	d.logger.Info("daemon stopped")
	return err
}

// runInbound keeps the inbound consumer alive across Redis outages.
func (d *daemon) runInbound(ctx context.Context) {
	for {
		err := d.consumer.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			d.logger.Warn("inbound feed unavailable", "error", err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(inboundRetryDelay):
		}
	}
}

func (d *daemon) close() {
	if d.asr != nil {
		_ = d.asr.Close()
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.meterProvider != nil {
		_ = d.meterProvider.Shutdown(context.Background())
	}
	if d.store != nil {
		_ = d.store.Close()
	}
}

func (r Runner) commandRun(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	d, err := newDaemon(cfg, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("daemon startup failed", "error", err.Error())
		return 1
	}
	defer d.close()

	if err := d.run(ctx, listener); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("daemon failed", "error", err.Error())
		return 1
	}
	return 0
}
