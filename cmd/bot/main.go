// Package main provides the bot entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildbox/internal/api/admin"
	"github.com/osa030/guildbox/internal/api/discord"
	"github.com/osa030/guildbox/internal/app/filter"
	"github.com/osa030/guildbox/internal/app/jukebox"
	"github.com/osa030/guildbox/internal/app/notification"
	"github.com/osa030/guildbox/internal/app/playback"
	"github.com/osa030/guildbox/internal/infra/config"
	"github.com/osa030/guildbox/internal/infra/download"
	"github.com/osa030/guildbox/internal/infra/logger"
	"github.com/osa030/guildbox/internal/infra/store"
	"github.com/osa030/guildbox/internal/infra/voice"
	"github.com/osa030/guildbox/internal/infra/youtube"
)

var (
	app        = kingpin.New("guildbox", "guildbox Discord music bot")
	configPath = app.Flag("config", "Path to config file").Default("config/bot.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// list-filters command
	listFiltersCmd = app.Command("list-filters", "List available filters and exit")
	// register-commands command
	registerCmd = app.Command("register-commands", "Register slash commands and exit")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the bot (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Handle list-filters command
	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	// Initialize logger
	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	// Override with command-line flags if specified
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	logCloser, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logCloser.Close()

	// Load config
	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if command == registerCmd.FullCommand() {
		err = registerCommands(cfg)
	} else {
		err = run(cfg)
	}
	if err != nil {
		zlog.Error().Msgf("Bot error: %v", err)
		logCloser.Close()
		os.Exit(1)
	}
}

// newSession creates a Discord session with the intents the bot needs.
func newSession(cfg *config.Config) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	return session, nil
}

// applicationID returns the configured client ID or the logged-in bot's ID.
func applicationID(cfg *config.Config, session *discordgo.Session) string {
	if cfg.Discord.ClientID != "" {
		return cfg.Discord.ClientID
	}
	return session.State.User.ID
}

// registerCommands registers slash commands without starting the bot.
func registerCommands(cfg *config.Config) error {
	session, err := newSession(cfg)
	if err != nil {
		return err
	}
	if err := session.Open(); err != nil {
		return fmt.Errorf("failed to connect to Discord: %w", err)
	}
	defer session.Close()

	return discord.RegisterCommands(session, applicationID(cfg, session), cfg.Discord.GuildID)
}

// run executes the main bot logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	if err := filter.CheckNames(cfg.FilterNames()); err != nil {
		return fmt.Errorf("invalid filter config: %w", err)
	}
	chain, err := filter.BuildChain(cfg.FilterSettings)
	if err != nil {
		return fmt.Errorf("invalid filter config: %w", err)
	}

	guilds, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open guild store: %w", err)
	}
	defer guilds.Close()

	session, err := newSession(cfg)
	if err != nil {
		return err
	}

	pipeline := download.NewPipeline(download.Config{
		Dir:          cfg.Download.Dir,
		MaxRetries:   cfg.Download.MaxRetries,
		RetryDelay:   cfg.Download.RetryDelay(),
		Timeout:      cfg.Download.Timeout(),
		Format:       cfg.Download.Format,
		AudioFormat:  cfg.Download.AudioFormat,
		AudioQuality: cfg.Download.AudioQuality,
		Proxy:        cfg.YouTube.Proxy,
	})
	// Files left by a previous run are never played again
	if err := pipeline.Cleanup(); err != nil {
		zlog.Warn().Err(err).Msg("Failed to clean download directory")
	}

	controller := playback.NewController(playback.Config{
		GracePeriod: cfg.Playback.GracePeriod(),
		IdleTimeout: cfg.Playback.IdleTimeout(),
		EventBuffer: cfg.Playback.EventBuffer,
	}, voice.PlayerFactory())

	connector := voice.NewConnector(session)
	service := jukebox.NewService(
		jukebox.Config{MetadataTTL: cfg.Cache.TTL()},
		controller,
		notification.NewManager(),
		chain,
		youtube.NewClient(youtube.Config{
			Proxy:         cfg.YouTube.Proxy,
			AllowUnlisted: cfg.YouTube.AllowUnlisted,
		}),
		pipeline,
		connector.Dialer,
		guilds,
	)

	handler := discord.NewHandler(service, cfg)
	handler.Register(session)
	service.Notifications().Subscribe(handler.Stream())
	service.Start()

	if err := session.Open(); err != nil {
		service.Close()
		return fmt.Errorf("failed to connect to Discord: %w", err)
	}
	if err := discord.RegisterCommands(session, applicationID(cfg, session), cfg.Discord.GuildID); err != nil {
		zlog.Error().Msgf("Failed to register commands: %v", err)
	}

	// Channel to capture server errors
	serverErrCh := make(chan error, 1)
	var adminServer *admin.Server
	if cfg.Admin.Enabled {
		adminServer = admin.NewServer(service, admin.Config{
			Addr:  cfg.Admin.Addr,
			Token: cfg.Admin.Token,
		})
		go func() {
			if err := adminServer.ListenAndServe(); err != nil {
				serverErrCh <- err
			}
		}()
	}

	zlog.Info().Msg("Bot is running")
	executeHooks(cfg.Hooks.OnStarted, "on_started")

	// Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		runErr = fmt.Errorf("admin server error: %w", err)
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Tear down every guild first so voice connections close while the gateway is up
	service.Close()

	if adminServer != nil {
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			zlog.Error().Msgf("Failed to shutdown admin server: %v", err)
		}
	}
	if err := session.Close(); err != nil {
		zlog.Error().Msgf("Failed to close Discord session: %v", err)
	}
	if err := pipeline.Cleanup(); err != nil {
		zlog.Warn().Err(err).Msg("Failed to clean download directory")
	}

	zlog.Info().Msg("Bot stopped")
	executeHooks(cfg.Hooks.OnStopped, "on_stopped")

	return runErr
}

// printFilters prints available filters.
func printFilters() {
	fmt.Println("Available Filters:")
	for _, name := range filter.Registered() {
		f, _ := filter.New(name)
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
