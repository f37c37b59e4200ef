package main

import (
	"fmt"
	"log/slog"
	"time"

	audithook "github.com/xraph/notifier/audit_hook"
	"github.com/xraph/notifier/backoff"
	"github.com/xraph/notifier/channel/email"
	"github.com/xraph/notifier/channel/push"
	"github.com/xraph/notifier/channel/slack"
	"github.com/xraph/notifier/channel/sms"
	"github.com/xraph/notifier/channel/telegram"
	"github.com/xraph/notifier/channel/webhook"
	"github.com/xraph/notifier/engine"
)

// newHub returns the push hub, or nil when push is disabled.
func newHub(cfg PushConfig, logger *slog.Logger) (*push.Hub, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	enc := push.Encoding(cfg.Encoding)
	switch enc {
	case push.EncodingJSON, push.EncodingMsgpack:
	default:
		return nil, fmt.Errorf("channels.push.encoding: unknown encoding %q", cfg.Encoding)
	}
	return push.NewHub(push.WithEncoding(enc), push.WithLogger(logger)), nil
}

// engineOptions turns the configuration into engine options: one adapter
// per enabled channel, the audit extension, backoff and channel limits.
func engineOptions(cfg *Config, hub *push.Hub, logger *slog.Logger) ([]engine.Option, error) {
	var opts []engine.Option
	ch := cfg.Channels

	if ch.Email.Enabled {
		opts = append(opts, engine.WithAdapter(email.New(email.Config{
			Host:     ch.Email.Host,
			Port:     ch.Email.Port,
			Username: ch.Email.Username,
			Password: ch.Email.Password,
			From:     ch.Email.From,
			Timeout:  ch.Email.Timeout,
		})))
	}

	if ch.SMS.Enabled {
		cls, err := classification(ch.SMS.Classification)
		if err != nil {
			return nil, fmt.Errorf("channels.sms: %w", err)
		}
		opts = append(opts, engine.WithAdapter(sms.New(sms.Config{
			Endpoint:       ch.SMS.Endpoint,
			APIKey:         ch.SMS.APIKey,
			From:           ch.SMS.From,
			Classification: cls,
		})))
	}

	if hub != nil {
		opts = append(opts, engine.WithAdapter(hub))
	}

	if ch.Webhook.Enabled {
		cls, err := classification(ch.Webhook.Classification)
		if err != nil {
			return nil, fmt.Errorf("channels.webhook: %w", err)
		}
		opts = append(opts, engine.WithAdapter(webhook.New(webhook.Config{
			Secret:         ch.Webhook.Secret,
			Classification: cls,
		})))
	}

	if ch.Slack.Enabled {
		opts = append(opts, engine.WithAdapter(slack.New(slack.Config{
			Token:   ch.Slack.Token,
			BaseURL: ch.Slack.BaseURL,
		})))
	}

	if ch.Telegram.Enabled {
		opts = append(opts, engine.WithAdapter(telegram.New(telegram.Config{
			Token:   ch.Telegram.Token,
			BaseURL: ch.Telegram.BaseURL,
		})))
	}

	if cfg.Audit.Enabled {
		auditOpts := []audithook.Option{audithook.WithLogger(logger)}
		if len(cfg.Audit.Actions) > 0 {
			auditOpts = append(auditOpts, audithook.WithActions(cfg.Audit.Actions...))
		}
		opts = append(opts, engine.WithExtension(audithook.New(audithook.LogRecorder(logger), auditOpts...)))
	}

	if cfg.Backoff.Base > 0 {
		opts = append(opts, engine.WithBackoff(
			backoff.NewJittered(cfg.Backoff.Base, cfg.Backoff.Max, uint64(time.Now().UnixNano())),
		))
	}

	limits, err := cfg.queueLimits()
	if err != nil {
		return nil, err
	}
	if len(limits) > 0 {
		opts = append(opts, engine.WithChannelLimits(limits...))
	}

	return opts, nil
}
