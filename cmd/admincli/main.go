// Package main provides the admin CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"

	"github.com/osa030/guildbox/internal/api/admin"
)

var (
	app     = kingpin.New("guildbox-admincli", "guildbox admin client")
	server  = app.Flag("server", "Admin API address").Default("http://localhost:8080").String()
	token   = app.Flag("token", "Admin token (or set ADMIN_TOKEN env)").Envar("ADMIN_TOKEN").String()
	timeout = app.Flag("timeout", "Request timeout").Default("10s").Duration()

	// guilds command
	guildsCmd = app.Command("guilds", "List known guilds").Alias("list")

	// queue command
	queueCmd   = app.Command("queue", "Show a guild's queue").Alias("status")
	queueGuild = queueCmd.Arg("guild-id", "Guild ID").Required().String()

	// skip command
	skipCmd   = app.Command("skip", "Skip the current track")
	skipGuild = skipCmd.Arg("guild-id", "Guild ID").Required().String()

	// clear command
	clearCmd   = app.Command("clear", "Clear pending tracks")
	clearGuild = clearCmd.Arg("guild-id", "Guild ID").Required().String()

	// reset command
	resetCmd   = app.Command("reset", "Tear down a guild's playback")
	resetGuild = resetCmd.Arg("guild-id", "Guild ID").Required().String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Check admin token
	if *token == "" {
		fmt.Println("Error: admin token is required (use --token or ADMIN_TOKEN env)")
		os.Exit(1)
	}

	client := admin.NewClient(*server, *token, nil)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var err error
	switch command {
	case guildsCmd.FullCommand():
		err = guilds(ctx, client)
	case queueCmd.FullCommand():
		err = queue(ctx, client, *queueGuild)
	case skipCmd.FullCommand():
		err = skip(ctx, client, *skipGuild)
	case clearCmd.FullCommand():
		err = clearQueue(ctx, client, *clearGuild)
	case resetCmd.FullCommand():
		err = reset(ctx, client, *resetGuild)
	}
	if err != nil {
		fmt.Printf("Error: %s\n", describe(err))
		cancel()
		os.Exit(1)
	}
}

func guilds(ctx context.Context, client *admin.Client) error {
	list, err := client.Guilds(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Guilds (%d):\n", len(list))
	for _, g := range list {
		name := g.Name
		if name == "" {
			name = "(unknown)"
		}
		if g.Active {
			name = "[ACTIVE] " + name
		}
		joined := "-"
		if g.JoinedAt != nil {
			joined = g.JoinedAt.Local().Format(time.DateTime)
		}
		fmt.Printf("  %s: %s (joined: %s)\n", g.ID, name, joined)
	}
	return nil
}

func queue(ctx context.Context, client *admin.Client, guildID string) error {
	q, err := client.Queue(ctx, guildID)
	if err != nil {
		return err
	}

	fmt.Println("\n=== GUILD PLAYBACK STATUS ===")
	fmt.Printf("Guild ID: %s\n", q.GuildID)
	fmt.Printf("State: %s\n", formatState(q.State))
	fmt.Printf("Connected: %v\n", q.Connected)
	fmt.Printf("Idle Timer Armed: %v\n", q.IdleTimerArmed)

	if q.Current != nil {
		fmt.Println("\nCurrently Playing:")
		printTrack(*q.Current)
	} else {
		fmt.Println("\nNo track currently playing")
	}

	fmt.Printf("\nQueue Size: %d\n", len(q.Queue))
	for i, t := range q.Queue {
		fmt.Printf("  %d. %s", i+1, t.Title)
		if t.RequestedBy != "" {
			fmt.Printf(" (requested by %s)", t.RequestedBy)
		}
		fmt.Println()
	}
	fmt.Println()
	return nil
}

func skip(ctx context.Context, client *admin.Client, guildID string) error {
	s, err := client.Skip(ctx, guildID)
	if err != nil {
		return err
	}
	fmt.Printf("Skipped: %s\n", s.Skipped.Title)
	if s.Next != nil {
		fmt.Printf("Next: %s\n", s.Next.Title)
	}
	return nil
}

func clearQueue(ctx context.Context, client *admin.Client, guildID string) error {
	removed, err := client.Clear(ctx, guildID)
	if err != nil {
		return err
	}
	fmt.Printf("Queue cleared (%d tracks removed)\n", removed)
	return nil
}

func reset(ctx context.Context, client *admin.Client, guildID string) error {
	if err := client.Reset(ctx, guildID); err != nil {
		return err
	}
	fmt.Println("Guild playback reset")
	return nil
}

func printTrack(t admin.TrackInfo) {
	fmt.Printf("  Title: %s\n", t.Title)
	fmt.Printf("  URL: %s\n", t.URL)
	fmt.Printf("  Duration: %s\n", (time.Duration(t.DurationSec) * time.Second).String())
	if t.RequestedBy != "" {
		fmt.Printf("  Requested by: %s\n", t.RequestedBy)
	}
	fmt.Printf("  Added at: %s\n", t.AddedAt)
}

// describe turns API error codes into operator-facing text.
func describe(err error) string {
	var apiErr *admin.APIError
	if !errors.As(err, &apiErr) {
		return err.Error()
	}
	switch apiErr.Code {
	case "unauthenticated":
		return "admin token was rejected"
	case "tenant_not_found":
		return "guild has no playback state"
	case "not_playing":
		return "nothing is playing"
	case "already_empty":
		return "queue is already empty"
	default:
		return apiErr.Error()
	}
}

func formatState(state string) string {
	switch state {
	case "playing":
		return "▶️  Playing"
	case "buffering":
		return "⏳ Buffering"
	case "idle":
		return "⏸  Idle"
	case "disconnected":
		return "⏹  Disconnected"
	default:
		return "❓ " + state
	}
}
