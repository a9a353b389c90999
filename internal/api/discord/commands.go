// Package discord provides the Discord slash-command front end.
package discord

import (
	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// Command names
const (
	commandPlay  = "play"
	commandSkip  = "skip"
	commandClear = "clear"
	commandQueue = "queue"
	commandReset = "reset"

	optionQuery = "query"
)

// Commands returns the slash commands served by the handler.
func Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        commandPlay,
			Description: "Plays a song from YouTube",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        optionQuery,
					Description: "A YouTube URL or search terms",
					Required:    true,
				},
			},
		},
		{
			Name:        commandSkip,
			Description: "Skips the current song",
		},
		{
			Name:        commandClear,
			Description: "Clears the song queue",
		},
		{
			Name:        commandQueue,
			Description: "Displays the current song queue",
		},
		{
			Name:        commandReset,
			Description: "Stops playback, clears the queue and leaves the voice channel",
		},
	}
}

// RegisterCommands replaces the application's commands. An empty guildID
// registers them globally.
func RegisterCommands(s *discordgo.Session, appID, guildID string) error {
	created, err := s.ApplicationCommandBulkOverwrite(appID, guildID, Commands())
	if err != nil {
		return errors.Wrap(err, "failed to register commands")
	}
	scope := guildID
	if scope == "" {
		scope = "global"
	}
	zlog.Info().Msgf("discord: commands registered: scope=%s count=%d", scope, len(created))
	return nil
}
