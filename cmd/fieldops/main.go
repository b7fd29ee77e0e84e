package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/fieldops-dev/fieldops/internal/api"
	"github.com/fieldops-dev/fieldops/internal/config"
	"github.com/fieldops-dev/fieldops/internal/coordinator"
	"github.com/fieldops-dev/fieldops/internal/identity"
	"github.com/fieldops-dev/fieldops/internal/lifecycle"
	"github.com/fieldops-dev/fieldops/internal/logging"
	"github.com/fieldops-dev/fieldops/internal/metrics"
	"github.com/fieldops-dev/fieldops/internal/notify"
	"github.com/fieldops-dev/fieldops/internal/store"
	"github.com/fieldops-dev/fieldops/internal/telemetry"
	"github.com/fieldops-dev/fieldops/internal/tracking"
)

const serviceName = "fieldops"

func main() {
	cnf, err := config.ReadConfig()
	if err != nil {
		logging.L().WithError(err).Fatal("configuration error")
	}
	log := logging.Init(cnf.LogLevel, cnf.LogFormat)

	if cnf.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cnf.SentryDSN}); err != nil {
			log.WithError(err).Warn("sentry init failed; continuing without error reporting")
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cnf.OTLPAddr)
	if err != nil {
		log.WithError(err).Warn("tracing init failed; continuing without traces")
	} else {
		defer shutdownTracing(context.Background())
	}

	metrics.Register()

	client, err := store.Connect(ctx, cnf.MongoURI)
	if err != nil {
		log.WithError(err).Fatal("mongodb connection failed")
	}
	defer client.Disconnect(context.Background())
	log.Info("mongodb connected")

	st := store.NewMongo(client, cnf.MongoDatabase)

	var push *notify.PushSender
	if cnf.PushEndpoint != "" {
		push = notify.NewPushSender(cnf.PushEndpoint, cnf.PushTimeout)
	}
	var webhook *notify.WebhookSender
	if cnf.WebhookURL != "" {
		webhook = notify.NewWebhookSender(cnf.WebhookURL, cnf.WebhookSecret, cnf.WebhookTimeout)
	}
	var eventLog *notify.EventLogPublisher
	if len(cnf.KafkaBrokers) > 0 {
		eventLog, err = notify.NewEventLogPublisher(cnf.KafkaBrokers, cnf.EventTopic)
		if err != nil {
			log.WithError(err).Warn("kafka publisher init failed; event stream channel disabled")
		} else {
			defer eventLog.Close()
		}
	}
	fanout := notify.NewFanout(st, push, webhook, eventLog, cnf.DispatchTimeout)

	coord := coordinator.New(st, lifecycle.NewMachine(), fanout, cnf.AutoStartOnArrival)
	gate := identity.NewGate(st, cnf.PinLength, cnf.PinMaxFailures, cnf.PinLockout)
	tracker := tracking.New(st, coord, cnf.ArrivalRadiusMeters)
	go tracker.Run(ctx, cnf.SweepInterval)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cnf.CORSOrigins
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	prom := ginprometheus.NewPrometheus("gin")
	prom.Use(r)

	api.NewServer(coord, gate, tracker, st).Register(r)

	server := &http.Server{
		Addr:    cnf.HTTPAddr,
		Handler: r,
	}

	go func() {
		log.WithField("addr", cnf.HTTPAddr).Info("starting http server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown error")
	}
	cancel()
	log.Info("stopped")
}
