package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
)

// APIError is a non-2xx answer from the admin API.
type APIError struct {
	Status int
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("admin api: status=%d code=%s", e.Status, e.Code)
}

// Client talks to the admin API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a new admin client. A nil httpClient uses http.DefaultClient.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// Guilds lists the guilds known to the bot.
func (c *Client) Guilds(ctx context.Context) ([]GuildInfo, error) {
	var out GuildList
	if err := c.do(ctx, http.MethodGet, "/api/guilds", &out); err != nil {
		return nil, err
	}
	return out.Guilds, nil
}

// Queue returns a guild's playback snapshot.
func (c *Client) Queue(ctx context.Context, guildID string) (QueueInfo, error) {
	var out QueueInfo
	err := c.do(ctx, http.MethodGet, guildPath(guildID, "queue"), &out)
	return out, err
}

// Skip skips the guild's current track.
func (c *Client) Skip(ctx context.Context, guildID string) (SkipInfo, error) {
	var out SkipInfo
	err := c.do(ctx, http.MethodPost, guildPath(guildID, "skip"), &out)
	return out, err
}

// Clear removes every pending track of a guild.
func (c *Client) Clear(ctx context.Context, guildID string) (int, error) {
	var out ClearInfo
	if err := c.do(ctx, http.MethodPost, guildPath(guildID, "clear"), &out); err != nil {
		return 0, err
	}
	return out.Removed, nil
}

// Reset tears down a guild's playback state.
func (c *Client) Reset(ctx context.Context, guildID string) error {
	return c.do(ctx, http.MethodPost, guildPath(guildID, "reset"), &ResetInfo{})
}

func guildPath(guildID, action string) string {
	return "/api/guilds/" + url.PathEscape(guildID) + "/" + action
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set(AdminTokenHeader, c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s failed", method, path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var info ErrorInfo
		if jsonErr := json.Unmarshal(body, &info); jsonErr != nil || info.Error == "" {
			info.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Code: info.Error}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}
	return nil
}
