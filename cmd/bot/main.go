package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/voxguard-tgbot-go/internal/api"
	"github.com/voxguard-tgbot-go/internal/config"
	"github.com/voxguard-tgbot-go/internal/handlers"
	"github.com/voxguard-tgbot-go/internal/i18n"
	"github.com/voxguard-tgbot-go/internal/middleware"
	"github.com/voxguard-tgbot-go/internal/services/authcheck"
	"github.com/voxguard-tgbot-go/internal/services/moderation"
	"github.com/voxguard-tgbot-go/internal/services/quota"
	"github.com/voxguard-tgbot-go/internal/services/session"
	"github.com/voxguard-tgbot-go/internal/services/settings"
	"github.com/voxguard-tgbot-go/internal/services/slots"
	"github.com/voxguard-tgbot-go/internal/services/strikes"
	"github.com/voxguard-tgbot-go/internal/services/tariff"
	"github.com/voxguard-tgbot-go/internal/services/voice"
	"github.com/voxguard-tgbot-go/internal/storage"
	"github.com/voxguard-tgbot-go/pkg/logger"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	// Load .env file if exists
	if err := godotenv.Load(*envFile); err != nil {
		// It's okay if .env doesn't exist
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting voice clone bot...")

	// Initialize bot
	bot, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		log.WithError(err).Fatal("Failed to create bot")
	}

	bot.Debug = cfg.Logging.Level == "debug"
	log.WithField("username", bot.Self.UserName).Info("Bot authorized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	root := cfg.Storage.Root
	files, err := storage.NewUserFiles(filepath.Join(root, "users_emb"))
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize user storage")
	}
	authorized, err := storage.NewListFile(filepath.Join(root, "authorized_users.txt"))
	if err != nil {
		log.WithError(err).Fatal("Failed to open authorized users list")
	}
	blacklist, err := storage.NewListFile(filepath.Join(root, "blacklist.txt"))
	if err != nil {
		log.WithError(err).Fatal("Failed to open blacklist")
	}
	// Initialize metrics
	metrics := middleware.NewMetrics()
	metrics.SetBlacklistSize(float64(blacklist.Len()))

	settingsStore := storage.NewRecordStore(filepath.Join(root, "user_settings.json"), cfg.Storage.FailOpen, log).
		WithRecorder(metrics.RecordStoreOperation)
	tariffStore := storage.NewRecordStore(filepath.Join(root, "tariffs_db.json"), cfg.Storage.FailOpen, log).
		WithRecorder(metrics.RecordStoreOperation)
	strikeStore := storage.NewRecordStore(filepath.Join(root, "user_strikes.json"), cfg.Storage.FailOpen, log).
		WithRecorder(metrics.RecordStoreOperation)

	// Initialize services
	tariffs := tariff.NewEngine(tariffStore, log)
	counter := quota.NewCounter(files, nil, log)
	strikeEngine := strikes.NewEngine(strikeStore, blacklist, cfg.Moderation.MaxStrikes, metrics, log)
	slotEngine := slots.NewEngine(files, tariffs, log)
	settingsService := settings.NewService(settingsStore, log)

	sessions, err := session.NewStore(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize session store")
	}

	classifier := moderation.NewHTTPClassifier(&cfg.Classifier, log)
	moderationPipeline := moderation.NewPipeline(cfg, classifier, strikeEngine, files, metrics, log)

	engine := voice.NewHTTPEngine(&cfg.Engine, log)
	queue := voice.NewQueue(cfg.Queue.Workers, cfg.Queue.Backlog, metrics, log)
	queue.Start()

	checker := authcheck.NewHTTPChecker(&cfg.AuthCheck, log)

	// Initialize rate limiter
	rateLimiter := middleware.NewRateLimiter(cfg, log)
	security := middleware.NewSecurityMiddleware(log)

	// Initialize i18n
	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}

	// Start metrics server if enabled
	if cfg.Monitoring.Metrics.Enabled {
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := middleware.StartMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	// Start web API if enabled
	var webServer *api.Server
	if cfg.Web.Enabled {
		webServer = api.NewServer(cfg, tariffs, counter, slotEngine, settingsService, authorized, engine, queue, checker, metrics, log)
		go func() {
			if err := webServer.Start(); err != nil {
				log.WithError(err).Error("Web API server failed")
			}
		}()
	}

	// Initialize handlers
	commandHandler := handlers.NewCommandHandler(
		bot,
		cfg,
		tariffs,
		counter,
		strikeEngine,
		slotEngine,
		settingsService,
		sessions,
		authorized,
		files,
		localizer,
		log,
	)

	messageHandler := handlers.NewMessageHandler(
		bot,
		cfg,
		moderationPipeline,
		tariffs,
		counter,
		strikeEngine,
		slotEngine,
		settingsService,
		sessions,
		engine,
		queue,
		rateLimiter,
		security,
		metrics,
		localizer,
		log,
	)

	// Setup update channel
	var updates tgbotapi.UpdatesChannel

	if cfg.Bot.Webhook.Enabled {
		webhookURL := fmt.Sprintf("%s/%s", cfg.Bot.Webhook.URL, bot.Token)
		webhook, err := tgbotapi.NewWebhook(webhookURL)
		if err != nil {
			log.WithError(err).Fatal("Failed to create webhook")
		}

		if _, err := bot.Request(webhook); err != nil {
			log.WithError(err).Fatal("Failed to set webhook")
		}

		updates = bot.ListenForWebhook("/" + bot.Token)
		log.WithField("url", webhookURL).Info("Webhook set")
	} else {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = cfg.Bot.UpdateTimeout

		updates = bot.GetUpdatesChan(u)
		log.Info("Using long polling")
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Main bot loop
	go func() {
		for update := range updates {
			if update.CallbackQuery != nil {
				if err := commandHandler.HandleCallbackQuery(ctx, update.CallbackQuery); err != nil {
					log.WithError(err).Error("Failed to handle callback query")
				}
				continue
			}

			// Edited messages go through the same pipeline.
			if update.Message == nil && update.EditedMessage != nil {
				update.Message = update.EditedMessage
			}
			if update.Message == nil {
				continue
			}

			if update.Message.IsCommand() {
				metrics.RecordCommandExecuted(update.Message.Command())

				if err := commandHandler.HandleCommand(ctx, update.Message); err != nil {
					log.WithError(err).Error("Failed to handle command")
					metrics.RecordMessageProcessed("error")
				} else {
					metrics.RecordMessageProcessed("success")
				}
				continue
			}

			if err := messageHandler.HandleMessage(ctx, update.Message); err != nil {
				log.WithError(err).Error("Failed to handle message")
				metrics.RecordMessageProcessed("error")
			} else {
				metrics.RecordMessageProcessed("success")
			}
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Info("Shutdown signal received")

	if cfg.Bot.Webhook.Enabled {
		if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			log.WithError(err).Error("Failed to delete webhook")
		}
	}

	bot.StopReceivingUpdates()
	cancel()

	if webServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := webServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Web API shutdown failed")
		}
		shutdownCancel()
	}

	// Let the engine finish in-flight jobs before exit
	queue.Stop()

	log.Info("Bot stopped")
}
