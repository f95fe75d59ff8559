// Package notify delivers "game starting" announcements.
package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/park285/ccrl-live-notifier/internal/msgcat"
)

// Notification describes one new game and who should hear about it.
type Notification struct {
	White        string
	Black        string
	Event        string
	Room         string
	RoomURL      string
	Recipients   []string
	OpeningCode  string
	OpeningTitle string
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type sender interface {
	Send(ctx context.Context, params *discordgo.WebhookParams) error
}

// DiscordNotifier posts one embed per notification. Only the listed recipients
// can be pinged.
type DiscordNotifier struct {
	hook sender
	cat  *msgcat.Catalog
}

// NewDiscord takes the webhook client from discordhook.New.
func NewDiscord(hook sender, cat *msgcat.Catalog) *DiscordNotifier {
	return &DiscordNotifier{hook: hook, cat: cat}
}

func (d *DiscordNotifier) Notify(ctx context.Context, n Notification) error {
	params, err := d.Render(n)
	if err != nil {
		return err
	}
	return d.hook.Send(ctx, params)
}

// Render builds the webhook payload without sending it.
func (d *DiscordNotifier) Render(n Notification) (*discordgo.WebhookParams, error) {
	title, err := d.cat.Render("notify.title", n)
	if err != nil {
		return nil, fmt.Errorf("render title: %w", err)
	}
	desc, err := d.cat.Render("notify.description", n)
	if err != nil {
		return nil, fmt.Errorf("render description: %w", err)
	}
	username, err := d.cat.Render("notify.username", n)
	if err != nil {
		return nil, fmt.Errorf("render username: %w", err)
	}
	users := append([]string(nil), n.Recipients...)
	return &discordgo.WebhookParams{
		Username:        username,
		Embeds:          []*discordgo.MessageEmbed{{Title: title, Description: desc, URL: n.RoomURL}},
		AllowedMentions: &discordgo.MessageAllowedMentions{Users: users},
	}, nil
}
