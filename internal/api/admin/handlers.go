package admin

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/guildbox/internal/app/playback"
	"github.com/osa030/guildbox/internal/domain/track"
)

// GuildInfo describes a guild known to the bot.
type GuildInfo struct {
	ID       string     `json:"id"`
	Name     string     `json:"name,omitempty"`
	JoinedAt *time.Time `json:"joined_at,omitempty"`
	Active   bool       `json:"active"`
}

// TrackInfo describes a queued track.
type TrackInfo struct {
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	DurationSec float64 `json:"duration_sec"`
	RequestedBy string  `json:"requested_by,omitempty"`
	AddedAt     string  `json:"added_at"`
}

// QueueInfo is a guild's playback snapshot.
type QueueInfo struct {
	GuildID        string      `json:"guild_id"`
	State          string      `json:"state"`
	Playing        bool        `json:"playing"`
	Connected      bool        `json:"connected"`
	IdleTimerArmed bool        `json:"idle_timer_armed"`
	Current        *TrackInfo  `json:"current"`
	Queue          []TrackInfo `json:"queue"`
}

// SkipInfo is the result of a skip.
type SkipInfo struct {
	Skipped TrackInfo  `json:"skipped"`
	Next    *TrackInfo `json:"next"`
}

// GuildList is the guild listing.
type GuildList struct {
	Guilds []GuildInfo `json:"guilds"`
}

// ClearInfo is the result of a clear.
type ClearInfo struct {
	Removed int `json:"removed"`
}

// ResetInfo is the result of a reset.
type ResetInfo struct {
	Reset bool `json:"reset"`
}

// ErrorInfo is the body of every error response.
type ErrorInfo struct {
	Error string `json:"error"`
}

func newTrackInfo(item *track.Item) TrackInfo {
	return TrackInfo{
		Title:       item.DisplayTitle(),
		URL:         item.URL,
		DurationSec: item.Duration.Seconds(),
		RequestedBy: item.RequestedBy,
		AddedAt:     item.AddedAt.UTC().Format(time.RFC3339),
	}
}

func newQueueInfo(s playback.Snapshot) QueueInfo {
	info := QueueInfo{
		GuildID:        s.GuildID,
		State:          s.State.String(),
		Playing:        s.Playing,
		Connected:      s.Connected,
		IdleTimerArmed: s.IdleTimerArmed,
		Queue:          make([]TrackInfo, 0, len(s.Queue)),
	}
	if s.Current != nil {
		cur := newTrackInfo(s.Current)
		info.Current = &cur
	}
	for i := range s.Queue {
		info.Queue = append(info.Queue, newTrackInfo(&s.Queue[i]))
	}
	return info
}

// listGuilds lists known guilds merged with guilds holding playback state.
func (s *Server) listGuilds(w http.ResponseWriter, r *http.Request) {
	known, err := s.service.KnownGuilds(r.Context())
	if err != nil {
		zlog.Error().Err(err).Msg("admin: failed to list guilds")
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}

	active := make(map[string]bool)
	for _, id := range s.service.ActiveGuilds() {
		active[id] = true
	}

	out := make([]GuildInfo, 0, len(known)+len(active))
	for _, g := range known {
		joined := g.JoinedAt
		out = append(out, GuildInfo{ID: g.ID, Name: g.Name, JoinedAt: &joined, Active: active[g.ID]})
		delete(active, g.ID)
	}
	for id := range active {
		out = append(out, GuildInfo{ID: id, Active: true})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	writeJSON(w, http.StatusOK, GuildList{Guilds: out})
}

func (s *Server) getQueue(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snap, err := s.service.Inspect(id)
	if errors.Is(err, playback.ErrTenantNotFound) {
		writeError(w, http.StatusNotFound, "tenant_not_found")
		return
	}
	// An empty queue is still a valid answer
	writeJSON(w, http.StatusOK, newQueueInfo(snap))
}

func (s *Server) skip(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	result, err := s.service.Skip(id)
	if errors.Is(err, playback.ErrNotPlaying) {
		writeError(w, http.StatusConflict, "not_playing")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}

	info := SkipInfo{Skipped: newTrackInfo(&result.Skipped)}
	if result.Next != nil {
		next := newTrackInfo(result.Next)
		info.Next = &next
	}
	zlog.Info().Msgf("admin: skipped: guild_id=%s title=%q", id, result.Skipped.DisplayTitle())
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) clear(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	removed, err := s.service.Clear(id)
	if errors.Is(err, playback.ErrAlreadyEmpty) {
		writeError(w, http.StatusConflict, "already_empty")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal")
		return
	}
	zlog.Info().Msgf("admin: cleared: guild_id=%s removed=%d", id, removed)
	writeJSON(w, http.StatusOK, ClearInfo{Removed: removed})
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.service.Reset(id) {
		writeError(w, http.StatusNotFound, "tenant_not_found")
		return
	}
	zlog.Info().Msgf("admin: reset: guild_id=%s", id)
	writeJSON(w, http.StatusOK, ResetInfo{Reset: true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Warn().Err(err).Msg("admin: failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, ErrorInfo{Error: code})
}
