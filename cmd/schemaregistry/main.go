package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nimbusdata/schema-registry/internal/rest"
	"github.com/nimbusdata/schema-registry/internal/schema/applier"
	"github.com/nimbusdata/schema-registry/internal/schema/codec"
	"github.com/nimbusdata/schema-registry/internal/schema/logclient"
	"github.com/nimbusdata/schema-registry/internal/schema/replica"
	"github.com/nimbusdata/schema-registry/internal/schema/store"
	"github.com/nimbusdata/schema-registry/internal/schema/types"
	"github.com/nimbusdata/schema-registry/internal/schema/writer"
)

type config struct {
	KafkaBrokers       string
	InternalTopic      string
	NodeID             string
	HTTPAddr           string
	Debug              bool
	TestMode           bool
	RetryBudget        int
	NumShards          int
	DefaultCompat      string
	KafkaTLSEnabled    bool
	KafkaSASLMechanism string
	KafkaSASLUsername  string
	KafkaSASLPassword  string
}

func (c *config) load() {
	flag.StringVar(&c.KafkaBrokers, "kafka-brokers", getEnv("KAFKA_BROKERS", "localhost:9092"), "Comma-separated Kafka broker addresses")
	flag.StringVar(&c.InternalTopic, "internal-topic", getEnv("INTERNAL_TOPIC", "_schemas"), "Internal log topic name")
	flag.StringVar(&c.NodeID, "node-id", getEnv("NODE_ID", ""), "Stable identifier for this process, stamped into every record it writes")
	flag.StringVar(&c.HTTPAddr, "http-addr", getEnv("HTTP_ADDR", ":8081"), "HTTP server address")
	flag.BoolVar(&c.Debug, "debug", getEnvBool("DEBUG", false), "Enable debug logging")
	flag.BoolVar(&c.TestMode, "test", getEnvBool("TEST_MODE", false), "Use an in-memory log client instead of Kafka")
	flag.IntVar(&c.RetryBudget, "retry-budget", getEnvInt("RETRY_BUDGET", writer.DefaultRetryBudget), "Offset-collision retries tolerated before a sequenced write fails")
	flag.IntVar(&c.NumShards, "num-shards", getEnvInt("NUM_SHARDS", 1), "Number of read-only replica shards to run alongside the coordinator")
	flag.StringVar(&c.DefaultCompat, "default-compatibility", getEnv("DEFAULT_COMPATIBILITY", string(types.Backward)), "Default global compatibility level")
	flag.BoolVar(&c.KafkaTLSEnabled, "kafka-tls", getEnvBool("KAFKA_TLS_ENABLED", false), "Enable TLS when dialing Kafka brokers")
	flag.StringVar(&c.KafkaSASLMechanism, "kafka-sasl-mechanism", getEnv("KAFKA_SASL_MECHANISM", ""), "SASL mechanism (PLAIN, SCRAM-SHA-256, SCRAM-SHA-512); empty disables SASL")
	flag.StringVar(&c.KafkaSASLUsername, "kafka-sasl-username", getEnv("KAFKA_SASL_USERNAME", ""), "SASL username")
	flag.StringVar(&c.KafkaSASLPassword, "kafka-sasl-password", getEnv("KAFKA_SASL_PASSWORD", ""), "SASL password")
}

type server struct {
	cfg    config
	client logclient.Client
	http   *http.Server
}

func main() {
	cfg := config{}
	cfg.load()
	flag.Parse()

	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}

	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}
	logHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	log := slog.New(logHandler)
	slog.SetDefault(log)

	log.Info("starting schema registry", "node_id", cfg.NodeID, "topic", cfg.InternalTopic, "shards", cfg.NumShards)

	srv := &server{cfg: cfg}
	if err := srv.connectLog(); err != nil {
		log.Error("failed to construct log client", "error", err)
		os.Exit(1)
	}

	w, replicas, err := bootstrap(context.Background(), srv.client, cfg, log)
	if err != nil {
		log.Error("failed to bootstrap store from log", "error", err)
		os.Exit(1)
	}

	var listView *replica.Replica
	if len(replicas) > 0 {
		listView = replicas[0]
	}
	rest.Init(w, listView)

	srv.http = &http.Server{Addr: cfg.HTTPAddr, Handler: rest.Routes()}

	go func() {
		log.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := srv.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	srv.gracefulShutdown(log, 5*time.Second)
}

// connectLog picks the in-memory log client in test mode, otherwise
// dials the configured Kafka brokers.
func (s *server) connectLog() error {
	if s.cfg.TestMode {
		s.client = logclient.NewMemoryClient()
		return nil
	}

	kcfg := logclient.Config{
		Brokers: strings.Split(s.cfg.KafkaBrokers, ","),
		TLS:     logclient.TLSConfig{Enabled: s.cfg.KafkaTLSEnabled},
	}
	if s.cfg.KafkaSASLMechanism != "" {
		kcfg.SASL = logclient.SASLConfig{
			Enabled:   true,
			Mechanism: s.cfg.KafkaSASLMechanism,
			Username:  s.cfg.KafkaSASLUsername,
			Password:  s.cfg.KafkaSASLPassword,
		}
	}

	client, err := logclient.NewKafkaClient(kcfg)
	if err != nil {
		return fmt.Errorf("construct kafka client: %w", err)
	}
	s.client = client
	return nil
}

// bootstrap replays the internal topic from offset 0 to populate the
// coordinator's Store, then constructs the coordinator Writer and one
// Replica per configured shard, each subscribed to the coordinator's
// Notifier for Replica Sync.
func bootstrap(ctx context.Context, client logclient.Client, cfg config, log *slog.Logger) (*writer.Writer, []*replica.Replica, error) {
	tp := logclient.TopicPartition{Topic: cfg.InternalTopic, Partition: 0}
	defaultCompat := types.CompatibilityLevel(cfg.DefaultCompat)

	coordinatorStore := store.New(defaultCompat)
	loadedOffset, err := replayLog(ctx, client, tp, applier.New(coordinatorStore))
	if err != nil {
		return nil, nil, fmt.Errorf("replay internal topic: %w", err)
	}

	w := writer.New(writer.Config{
		Client:        client,
		Topic:         tp,
		Store:         coordinatorStore,
		NodeID:        types.NodeID(cfg.NodeID),
		RetryBudget:   cfg.RetryBudget,
		InitialOffset: &loadedOffset,
	})

	replicas := make([]*replica.Replica, 0, cfg.NumShards)
	for i := 0; i < cfg.NumShards; i++ {
		r := replica.New(client, tp, defaultCompat, w.Notifier(), log.With("shard", i))
		if err := r.ReadSync(ctx); err != nil {
			return nil, nil, fmt.Errorf("replica %d initial sync: %w", i, err)
		}
		replicas = append(replicas, r)
	}

	return w, replicas, nil
}

// replayLog fetches the internal topic from offset 0 to its current
// tail and applies every record, bringing a freshly constructed Store
// up to date before it is handed to a Writer or Replica. It returns the
// highest offset applied, or -1 if the topic was empty, so the caller
// can seed a Catcher that already reflects this replay instead of
// redoing it from offset 0.
func replayLog(ctx context.Context, client logclient.Client, tp logclient.TopicPartition, a *applier.Applier) (int64, error) {
	result, err := client.ListOffsets(ctx, tp)
	if err != nil {
		return -1, fmt.Errorf("list offsets: %w", err)
	}
	if len(result.Topics) != 1 || len(result.Topics[0].Partitions) != 1 {
		return -1, fmt.Errorf("unexpected list_offsets shape for %s/%d", tp.Topic, tp.Partition)
	}
	end := result.Topics[0].Partitions[0].Offset
	if end == 0 {
		return -1, nil
	}

	reader, err := client.FetchBatchReader(ctx, tp, 0, end)
	if err != nil {
		return -1, fmt.Errorf("open fetch reader: %w", err)
	}
	defer reader.Close()

	loaded := int64(-1)
	for {
		rec, ok, err := reader.Next(ctx)
		if err != nil {
			return -1, fmt.Errorf("read record: %w", err)
		}
		if !ok {
			return loaded, nil
		}
		key, err := codec.DecodeKey(rec.Key)
		if err != nil {
			return -1, fmt.Errorf("decode key at offset %d: %w", rec.Offset, err)
		}
		value, err := codec.DecodeValue(rec.Value)
		if err != nil {
			return -1, fmt.Errorf("decode value at offset %d: %w", rec.Offset, err)
		}
		if err := a.Apply(rec.Offset, key, value); err != nil {
			return -1, fmt.Errorf("apply record at offset %d: %w", rec.Offset, err)
		}
		loaded = rec.Offset
	}
}

func (s *server) gracefulShutdown(log *slog.Logger, timeout time.Duration) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Info("shutting down server")
	if err := s.http.Shutdown(ctx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	if closer, ok := s.client.(*logclient.KafkaClient); ok {
		if err := closer.Close(); err != nil {
			log.Error("log client shutdown error", "error", err)
		}
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1" || v == "yes"
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
