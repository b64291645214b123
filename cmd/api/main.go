// Package main (in api-subfolder) provides launch of the externally facing
// server: REST surface, webhook receiver and the SSE event stream
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/UnendingLoop/PhotoRevive/internal/backend"
	"github.com/UnendingLoop/PhotoRevive/internal/events"
	"github.com/UnendingLoop/PhotoRevive/internal/kafka"
	"github.com/UnendingLoop/PhotoRevive/internal/mwlogger"
	"github.com/UnendingLoop/PhotoRevive/internal/repository"
	"github.com/UnendingLoop/PhotoRevive/internal/service"
	"github.com/UnendingLoop/PhotoRevive/internal/storage"
	"github.com/UnendingLoop/PhotoRevive/internal/transport"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/helpers"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
)

func main() {
	appConfig := config.New()
	appConfig.EnableEnv("")
	if err := appConfig.LoadEnvFiles("./.env"); err != nil {
		log.Fatalf("Failed to load envs: %s\nExiting app...", err)
	}

	zlog.InitConsole()
	if err := zlog.SetLevel("info"); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbConn := repository.ConnectWithRetries(appConfig, 5, 10*time.Second)
	repository.MigrateWithRetries(dbConn.Master, "./migrations", 10, 15*time.Second)

	strg := storage.NewArtifactStorage(appConfig, 10*time.Second)
	repo := repository.NewPostgresJobRepo(dbConn)

	broker := appConfig.GetString("KAFKA_BROKER")
	kafka.WaitKafkaReady(broker)

	submitTopic := appConfig.GetString(kafka.SubmitTopicKey)
	eventsTopic := appConfig.GetString(kafka.EventsTopicKey)
	kafka.InitKafkaTopics(ctx, broker, 10*time.Second, submitTopic, eventsTopic)

	submitProd := wbfkafka.NewProducer([]string{broker}, submitTopic)
	eventsProd := wbfkafka.NewProducer([]string{broker}, eventsTopic)

	// every API instance reads the full events topic under its own group so
	// its local SSE subscribers see all transitions
	eventsQueue := make(chan kafkago.Message)
	eventsCons := wbfkafka.NewConsumer([]string{broker}, eventsTopic, "api-events-"+helpers.CreateUUID())
	eventsCons.StartConsuming(ctx, eventsQueue, retry.Strategy{
		Attempts: 5,
		Delay:    2 * time.Second,
		Backoff:  1.5,
	})

	hub := events.NewHub()
	go hub.Pump(ctx, eventsQueue, eventsCons)

	backends, err := backend.KindBackends(appConfig)
	if err != nil {
		log.Fatalf("Failed to resolve backend configuration: %v", err)
	}

	fetcher := service.NewHTTPFetcher(&http.Client{Timeout: 60 * time.Second})

	var svc JobAPIService = service.NewJobService(repo, submitProd, strg, events.NewPublisher(eventsProd), fetcher, backends)
	handlers := transport.NewJobHandler(svc, hub)

	mode := appConfig.GetString("GIN_MODE")
	engine := ginext.New(mode)

	engine.GET("/ping", handlers.SimplePinger)
	engine.POST("/jobs", handlers.CreateJob)
	engine.GET("/jobs/:id", handlers.GetJob)
	engine.POST("/jobs/:id/attempts", handlers.SubmitAttempt)
	engine.GET("/jobs/:id/events", handlers.Events)
	engine.GET("/attempts/:id", handlers.GetAttempt)
	engine.GET("/attempts/:id/result", handlers.LoadResult)
	engine.GET("/attempts/:id/url", handlers.ResultURL)
	engine.POST("/webhooks/attempts/:id", handlers.Callback)

	srv := &http.Server{
		Addr:    ":" + appConfig.GetString("APP_PORT"),
		Handler: mwlogger.NewMWLogger(engine),
	}

	// Server launch
	go func() {
		log.Printf("Server running on http://localhost%s\n", srv.Addr)
		err := srv.ListenAndServe()
		if err != nil {
			switch {
			case errors.Is(err, http.ErrServerClosed):
				log.Println("Server gracefully stopping...")
			default:
				log.Printf("Server stopped: %v", err)
				stop()
			}
		}
	}()

	<-ctx.Done()

	shutdown(submitProd, eventsProd, eventsCons, dbConn)
	log.Println("Exiting api...")
}

func shutdown(submitProd, eventsProd *wbfkafka.Producer, eventsCons *wbfkafka.Consumer, dbConn *dbpg.DB) {
	log.Println("Interrupt received!!! Starting shutdown sequence...")

	if err := submitProd.Close(); err != nil {
		log.Println("Failed to close submit-producer:", err)
	}
	if err := eventsProd.Close(); err != nil {
		log.Println("Failed to close events-producer:", err)
	}
	if err := eventsCons.Close(); err != nil {
		log.Println("Failed to close events-consumer:", err)
	}
	log.Println("Kafka connections closed.")

	if err := dbConn.Master.Close(); err != nil {
		log.Println("Failed to close DB-conn correctly:", err)
		return
	}
	log.Println("DBconn closed")
}
