package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/UnendingLoop/PhotoRevive/internal/backend"
	"github.com/UnendingLoop/PhotoRevive/internal/backend/gpuless"
	"github.com/UnendingLoop/PhotoRevive/internal/backend/hostedapi"
	"github.com/UnendingLoop/PhotoRevive/internal/backend/localsync"
	"github.com/UnendingLoop/PhotoRevive/internal/events"
	"github.com/UnendingLoop/PhotoRevive/internal/kafka"
	"github.com/UnendingLoop/PhotoRevive/internal/model"
	"github.com/UnendingLoop/PhotoRevive/internal/repository"
	"github.com/UnendingLoop/PhotoRevive/internal/service"
	"github.com/UnendingLoop/PhotoRevive/internal/storage"
	"github.com/UnendingLoop/PhotoRevive/internal/sweeper"
	"github.com/UnendingLoop/PhotoRevive/internal/worker"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"
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
	strg := storage.NewArtifactStorage(appConfig, 10*time.Second)
	repo := repository.NewPostgresJobRepo(dbConn)

	broker := appConfig.GetString("KAFKA_BROKER")
	kafka.WaitKafkaReady(broker)

	eventsProd := wbfkafka.NewProducer([]string{broker}, appConfig.GetString(kafka.EventsTopicKey))

	backends, err := backend.KindBackends(appConfig)
	if err != nil {
		log.Fatalf("Failed to resolve backend configuration: %v", err)
	}

	// the worker side never enqueues or serves callbacks itself
	var svc AttemptWorkerService = service.NewJobService(repo, NoopPublisher{}, strg, events.NewPublisher(eventsProd), nil, backends)

	submitTimeout := durationFromConfig(appConfig, "SUBMIT_TIMEOUT", 30*time.Second)
	registry, err := backend.NewRegistry(appConfig, buildAdapters(appConfig, submitTimeout))
	if err != nil {
		log.Fatalf("Failed to build backend registry: %v", err)
	}

	queue := make(chan kafkago.Message)
	consumeStrategy := retry.Strategy{
		Attempts: 5,
		Delay:    2 * time.Second,
		Backoff:  1.5,
	}
	cons := wbfkafka.NewConsumer([]string{broker}, appConfig.GetString(kafka.SubmitTopicKey), appConfig.GetString("KAFKA_GROUPID"))
	cons.StartConsuming(ctx, queue, consumeStrategy)

	// one retry on transport-level submission failures, then the attempt fails
	submitStrategy := retry.Strategy{
		Attempts: 2,
		Delay:    2 * time.Second,
		Backoff:  1.5,
	}

	w := worker.NewWorkerInstance(strg, svc, registry, queue, cons,
		appConfig.GetString("PUBLIC_BASE_URL"), submitTimeout, submitStrategy)
	go w.StartPool(ctx, intFromConfig(appConfig, "WORKER_COUNT", 4))

	windows, err := sweeper.WindowsFromConfig(appConfig)
	if err != nil {
		log.Fatalf("Failed to parse retention windows: %v", err)
	}
	sw := sweeper.New(repo, strg, windows, 100)
	go sw.Run(ctx, durationFromConfig(appConfig, "SWEEP_INTERVAL", 24*time.Hour))

	<-ctx.Done()

	shutdown(cons, eventsProd, dbConn)
	log.Println("Exiting worker...")
}

func buildAdapters(cfg *config.Config, submitTimeout time.Duration) map[model.Backend]backend.Adapter {
	client := backend.NewHTTPClient(submitTimeout)

	versions := map[model.Kind]string{
		model.KindRestore:  cfg.GetString("HOSTED_MODEL_RESTORE"),
		model.KindColorize: cfg.GetString("HOSTED_MODEL_COLORIZE"),
		model.KindAnimate:  cfg.GetString("HOSTED_MODEL_ANIMATE"),
	}

	return map[model.Backend]backend.Adapter{
		model.BackendLocal:  localsync.New(cfg.GetString("LOCAL_BACKEND_URL"), client),
		model.BackendGPU:    gpuless.New(cfg.GetString("GPU_BACKEND_URL"), cfg.GetString("GPU_API_KEY"), client),
		model.BackendHosted: hostedapi.New(cfg.GetString("HOSTED_API_URL"), cfg.GetString("HOSTED_API_TOKEN"), versions, client),
	}
}

func durationFromConfig(cfg *config.Config, key string, def time.Duration) time.Duration {
	raw := cfg.GetString(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("Bad duration %q in %s, falling back to %v", raw, key, def)
		return def
	}
	return d
}

func intFromConfig(cfg *config.Config, key string, def int) int {
	raw := cfg.GetString(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		log.Printf("Bad number %q in %s, falling back to %d", raw, key, def)
		return def
	}
	return n
}

func shutdown(cons *wbfkafka.Consumer, prod *wbfkafka.Producer, dbConn *dbpg.DB) {
	log.Println("Interrupt received!!! Starting shutdown sequence...")

	if err := cons.Close(); err != nil {
		log.Println("Failed to close Kafka-reader:", err)
	}
	if err := prod.Close(); err != nil {
		log.Println("Failed to close events-producer:", err)
	}
	log.Println("Kafka connections closed.")

	if err := dbConn.Master.Close(); err != nil {
		log.Println("Failed to close DB-conn correctly:", err)
		return
	}
	log.Println("DBconn closed")
}
