package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/alanyoungcy/signalboard/internal/domain"
)

// Embed colours by signal direction.
const (
	discordGreen = 0x2ecc71
	discordRed   = 0xe74c3c
	discordGrey  = 0x95a5a6
)

// DiscordSender posts to a Discord channel webhook. Signals are rendered as
// an embed; plain notifications as bold-titled content.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

var _ SignalSender = (*DiscordSender)(nil)

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Timestamp   string         `json:"timestamp"`
	Fields      []discordField `json:"fields,omitempty"`
}

// SendSignal posts the signal as a single embed.
func (d *DiscordSender) SendSignal(ctx context.Context, sig domain.Signal) error {
	title, message := FormatSignal(sig)
	embed := discordEmbed{
		Title:       title,
		Description: message,
		Color:       directionColor(sig.Direction),
		Timestamp:   sig.Timestamp.UTC().Format(time.RFC3339),
		Fields: []discordField{
			{Name: "Price", Value: fmt.Sprintf("%.4f", sig.Price), Inline: true},
			{Name: "Timeframe", Value: string(sig.Timeframe), Inline: true},
		},
	}
	if sig.Direction != "" {
		embed.Fields = append(embed.Fields, discordField{Name: "Direction", Value: string(sig.Direction), Inline: true})
	}
	return postJSON(ctx, d.client, "discord", d.webhookURL, map[string]any{
		"embeds": []discordEmbed{embed},
	}, nil)
}

func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, d.client, "discord", d.webhookURL, map[string]string{
		"content": fmt.Sprintf("**%s**\n%s", title, message),
	}, nil)
}

func (d *DiscordSender) Name() string { return "discord" }

func directionColor(dir domain.Direction) int {
	switch dir {
	case domain.DirectionBullish:
		return discordGreen
	case domain.DirectionBearish:
		return discordRed
	default:
		return discordGrey
	}
}
