package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DiscordConfig holds the bot credentials and target channel.
type DiscordConfig struct {
	BotToken  string
	ChannelID string

	// Timeout bounds individual HTTP calls (default: 10s).
	Timeout time.Duration
}

// Discord posts lifecycle notifications as channel messages. The message id
// returned by Notify is the Discord message id; passing it back updates the
// message in place, so one job occupies one message for its whole life.
type Discord struct {
	config     DiscordConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDiscord creates a Discord notifier.
func NewDiscord(config DiscordConfig, logger *slog.Logger) *Discord {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &Discord{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
	}
}

const discordAPI = "https://discord.com/api/v10"

// Embed colors per lifecycle state.
var discordColors = map[EventType]int{
	JobStarted:   0x3498db, // blue
	JobCompleted: 0x2ecc71, // green
	JobFailed:    0xe74c3c, // red
	JobCancelled: 0x95a5a6, // grey
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Color       int    `json:"color"`
	Footer      *struct {
		Text string `json:"text"`
	} `json:"footer,omitempty"`
}

type discordMessage struct {
	Embeds []discordEmbed `json:"embeds"`
}

// Notify posts or updates the job's message and returns its id.
func (d *Discord) Notify(ctx context.Context, ev Event, prevMessageID string) (string, error) {
	embed := discordEmbed{
		Title: fmt.Sprintf("%s %s", statusEmoji(ev.Type), ev.Title),
		Color: discordColors[ev.Type],
	}
	if ev.Error != "" {
		embed.Description = "```\n" + truncate(ev.Error, 1800) + "\n```"
	}
	embed.Footer = &struct {
		Text string `json:"text"`
	}{Text: fmt.Sprintf("%s · run %s", ev.JobID, ev.RunID)}

	method := http.MethodPost
	url := fmt.Sprintf("%s/channels/%s/messages", discordAPI, d.config.ChannelID)
	if prevMessageID != "" {
		method = http.MethodPatch
		url = fmt.Sprintf("%s/%s", url, prevMessageID)
	}

	body, err := json.Marshal(discordMessage{Embeds: []discordEmbed{embed}})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+d.config.BotToken)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("discord request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("discord returned status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var posted struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &posted); err != nil {
		return "", fmt.Errorf("decode discord response: %w", err)
	}
	return posted.ID, nil
}

func statusEmoji(t EventType) string {
	switch t {
	case JobStarted:
		return "⏳"
	case JobCompleted:
		return "✅"
	case JobFailed:
		return "❌"
	case JobCancelled:
		return "🛑"
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
