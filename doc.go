// Package notifier provides a notification dispatch engine for Go. It takes
// persisted notification records from pending to a terminal state (sent,
// failed or cancelled) across email, SMS, push, webhook, Slack and Telegram
// channels, with centralized retry and backoff, scheduled delivery and
// failure isolation between workers.
//
// Notifier is designed as a library first. Import it, configure a store,
// register channel adapters, and start the engine. The cmd/notifierd binary
// wraps the same pieces behind a REST API.
//
// # Quick Start
//
//	n, err := notifier.New(
//	    notifier.WithStore(mongoStore),
//	    notifier.WithConcurrency(20),
//	)
//	eng, err := engine.Build(n,
//	    engine.WithAdapter(email.New(smtpCfg)),
//	    engine.WithAdapter(webhook.New()),
//	)
//	err = eng.Start(ctx)
//
// # Architecture
//
// The record store is the single durable owner of every notification. The
// scheduler feeds one shared ready queue in priority order, workers claim
// items with a compare-and-swap on the record's version, call the channel
// adapter under a hard deadline, and hand the outcome to the reconciler,
// which applies the retry policy and persists the transition with another
// compare-and-swap. A stale outcome never overwrites a newer state.
//
// All notification IDs are 24-character hex ObjectIDs.
package notifier
