package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"chatflow/internal/bus"
	"chatflow/internal/config"
	"chatflow/internal/oauth"
	"chatflow/internal/persist"
	"chatflow/internal/runner"
	"chatflow/internal/templating"
	"chatflow/internal/trigger"
	"chatflow/internal/twitch"
	"chatflow/internal/variables"
)

// logLauncher surfaces the authorization URL in the log for the user to
// open; the desktop shell owns the real browser hand-off.
type logLauncher struct {
	logger *zap.Logger
}

func (l *logLauncher) OpenURL(url string) error {
	l.logger.Info("open this URL to authorize", zap.String("url", url))
	return nil
}

func main() {
	configPath := flag.String("config", "chatflow.yaml", "Path to configuration file")
	natsURL := flag.String("nats-url", "", "NATS server URL (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *natsURL != "" {
		cfg.NATS.URL = *natsURL
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Variable store plus durable persistence for the App and User scopes.
	store := variables.NewStore()
	boltStore := persist.NewBoltStore(cfg.StorePath, logger)
	if err := boltStore.Open(); err != nil {
		logger.Fatal("failed to open variable database", zap.Error(err))
	}
	defer boltStore.Close()

	for bucket, set := range map[string]*variables.Set{
		persist.AppBucket:  store.App,
		persist.UserBucket: store.User,
	} {
		snapshot, err := boltStore.Load(bucket)
		if err != nil {
			logger.Fatal("failed to load variables", zap.String("bucket", bucket), zap.Error(err))
		}
		set.Restore(snapshot)
	}
	detach := boltStore.Attach(store)
	defer detach()

	eventBus := bus.New()
	defer eventBus.Close()

	authManager := oauth.NewManager(store, eventBus, nil, &logLauncher{logger: logger}, logger, cfg.OAuth)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Chat client: direct IRC websocket when enabled, NATS adapter otherwise.
	var chatClient twitch.Client
	if cfg.IRC.Enabled {
		token, _ := store.App.Get(oauth.AccessTokenKey(cfg.OAuth.Context))
		ircClient := twitch.NewIRCClient(twitch.IRCConfig{
			Endpoint: cfg.IRC.Endpoint,
			Username: authManager.Username(),
			Token:    token,
			Channels: cfg.IRC.Channels,
		}, logger)
		if err := ircClient.Connect(ctx); err != nil {
			logger.Fatal("failed to connect chat client", zap.Error(err))
		}
		chatClient = ircClient
	} else {
		nc, err := nats.Connect(cfg.NATS.URL)
		if err != nil {
			logger.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer nc.Close()

		natsClient, err := twitch.NewNATSClient(nc, twitch.NATSClientConfig{
			StreamName:    cfg.NATS.StreamName,
			Subject:       cfg.NATS.Subject,
			DurableName:   cfg.NATS.DurableName,
			JoinSubject:   cfg.NATS.JoinSubject,
			AckWait:       cfg.NATS.AckWait,
			MaxDeliveries: cfg.NATS.MaxDeliveries,
		}, logger)
		if err != nil {
			logger.Fatal("failed to create chat event adapter", zap.Error(err))
		}
		if err := natsClient.Start(ctx); err != nil {
			logger.Fatal("failed to start chat event adapter", zap.Error(err))
		}
		chatClient = natsClient
	}

	// Register the trigger types.
	processor := templating.NewProcessor(store)
	registry := trigger.NewRegistry()
	registry.Register(trigger.NewChatMessageTrigger(logger, processor, authManager, chatClient), trigger.DecodeChatMessageConfig)
	registry.Register(trigger.NewWhisperTrigger(logger, authManager, chatClient), trigger.DecodeWhisperConfig)

	sink := func(flowID string, vars *variables.Set) {
		fields := []zap.Field{zap.String("flow_id", flowID)}
		for _, key := range vars.Keys() {
			value, _ := vars.Get(key)
			fields = append(fields, zap.String(key.Name, value))
		}
		logger.Info("flow fired", fields...)
	}

	flowRunner := runner.NewRunner(registry, eventBus, logger, sink)
	for _, fc := range cfg.Flows {
		raw, err := fc.RawTriggerConfig()
		if err != nil {
			logger.Fatal("invalid flow config", zap.String("flow", fc.Name), zap.Error(err))
		}
		triggerCfg, err := registry.Decode(fc.Trigger, raw)
		if err != nil {
			logger.Fatal("failed to decode trigger config", zap.String("flow", fc.Name), zap.Error(err))
		}
		id, err := flowRunner.AddFlow(runner.Flow{
			ID:          fc.ID,
			Name:        fc.Name,
			TriggerCode: fc.Trigger,
			Config:      triggerCfg,
			Enabled:     fc.Enabled,
		})
		if err != nil {
			logger.Fatal("failed to add flow", zap.String("flow", fc.Name), zap.Error(err))
		}
		logger.Info("loaded flow", zap.String("flow_id", id), zap.String("name", fc.Name))
	}

	// Revalidate the stored token on startup; a stale token clears itself
	// and the affected flows stay idle until reauthorized.
	if authManager.HasToken() {
		authManager.ValidateToken(ctx)
	}

	flowRunner.Start(ctx)
	defer flowRunner.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("chatflow daemon started")
	<-sigChan
	logger.Info("shutting down")
}

func buildLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
