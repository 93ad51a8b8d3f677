package notify

import "physicalmcp/internal/config"

// ChannelsFromConfig instantiates every configured channel.
func ChannelsFromConfig(cfg config.NotificationsConfig) []Channel {
	var out []Channel
	if cfg.Telegram.Configured() {
		out = append(out, NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID))
	}
	if cfg.Discord.Configured() {
		out = append(out, NewDiscord(cfg.Discord.URL))
	}
	if cfg.Slack.Configured() {
		out = append(out, NewSlack(cfg.Slack.URL))
	}
	if cfg.Ntfy.Configured() {
		out = append(out, NewNtfy(cfg.Ntfy.Server, cfg.Ntfy.Topic))
	}
	if cfg.Webhook.Configured() {
		out = append(out, NewWebhook(cfg.Webhook.URL))
	}
	if cfg.Desktop.Enabled {
		out = append(out, NewDesktop())
	}
	return out
}
