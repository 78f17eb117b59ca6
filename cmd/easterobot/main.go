package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Dashstrom/easterobot/internal/bot"
	"github.com/Dashstrom/easterobot/internal/hunt"
	"github.com/Dashstrom/easterobot/internal/ledger"
	"github.com/Dashstrom/easterobot/internal/ratelimit"
	"github.com/Dashstrom/easterobot/internal/session"
)

func main() {
	config, err := LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(config.LogLevel)
	logger := slog.Default()

	configs, err := loadGuildConfigs(config.GuildConfigJSON)
	if err != nil {
		logger.Error("failed to load guild configs", "error", err)
		os.Exit(1)
	}

	store, err := ledger.OpenSQLite(config.DBPath)
	if err != nil {
		logger.Error("failed to open ledger", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	discord, err := discordgo.New("Bot " + config.DiscordToken)
	if err != nil {
		logger.Error("failed to create session", "error", err)
		os.Exit(1)
	}
	discord.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages

	if err := discord.Open(); err != nil {
		logger.Error("failed to open session connection", "error", err)
		os.Exit(1)
	}
	defer discord.Close()

	appID := discord.State.User.ID
	notifier := bot.NewNotifier(discord, logger)
	mgr := session.NewManager(store, configs, notifier, nil, logger)

	basketLim := ratelimit.NewLimiter(
		time.Duration(config.CooldownBasketMin)*time.Second,
		time.Duration(config.CooldownBasketMax)*time.Second,
		nil,
	)
	topLim := ratelimit.NewLimiter(
		time.Duration(config.CooldownTopMin)*time.Second,
		time.Duration(config.CooldownTopMax)*time.Second,
		nil,
	)
	searchLim := ratelimit.NewLimiter(
		time.Duration(config.CooldownSearchMin)*time.Second,
		time.Duration(config.CooldownSearchMax)*time.Second,
		nil,
	)
	if err := bot.Setup(discord, appID, config.DevGuild, mgr, store, basketLim, topLim, searchLim, logger); err != nil {
		logger.Error("failed to setup bot", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := mgr.Resume(ctx); err != nil {
		logger.Error("failed to resume hunts", "error", err)
	}
	cancel()

	logger.Info("bot is running")
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	mgr.Shutdown()
}

func loadGuildConfigs(path string) (*hunt.Configs, error) {
	if path == "" {
		return hunt.NewConfigs(hunt.DefaultConfig())
	}
	return hunt.LoadConfigs(path)
}

func setupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}
