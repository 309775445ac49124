package notify

import (
	"context"
	"net/http"
	"time"
)

const discordColor = 0x2f80ed

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

type discordMessage struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

// DiscordSender posts one embed per notification to a channel webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
	now        func() time.Time
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: defaultClient, now: time.Now}
}

// Send answers nil on any 2xx; Discord replies 204 to webhooks without
// ?wait=true.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, d.client, d.Name(), d.webhookURL, discordMessage{
		Username: "ledgerd",
		Embeds: []discordEmbed{{
			Title:       title,
			Description: message,
			Color:       discordColor,
			Timestamp:   d.now().UTC().Format(time.RFC3339),
		}},
	})
}

func (d *DiscordSender) Name() string { return "discord" }
