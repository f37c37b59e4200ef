// Package engine wires the notifier subsystems together and provides the
// service operations used by the HTTP API and embedding applications.
//
// The engine package exists to break an import cycle: the root notifier
// package defines Entity, Clock and the sentinel errors, which the
// notification, scheduler and worker packages import, so it cannot import
// them back. Engine sits above the subsystem packages and below the
// application layer.
//
// # Building an Engine
//
//	n, err := notifier.New(
//	    notifier.WithStore(mongoStore),
//	    notifier.WithConcurrency(20),
//	    notifier.WithChannelTimeout("sms", 5*time.Second),
//	)
//
//	eng, err := engine.Build(n,
//	    engine.WithAdapter(email.New(emailCfg)),
//	    engine.WithAdapter(webhook.New(webhook.Config{Secret: secret})),
//	    engine.WithExtension(audithook.New(recorder)),
//	    engine.WithBackoff(backoff.NewJittered(time.Second, time.Minute, 0)),
//	    engine.WithChannelLimits(queue.Limit{
//	        Channel:   notification.ChannelSMS,
//	        RateLimit: 10,
//	    }),
//	)
//
// # Dispatching
//
//	eng.Start(ctx)
//	defer eng.Stop(ctx)
//
//	n, err := eng.Create(ctx, notification.Draft{
//	    Channel:   notification.ChannelEmail,
//	    Recipient: "user@example.com",
//	    Message:   "Your order has shipped",
//	})
//
// Create persists the record as pending and hands it to the scheduler.
// Workers deliver it through the channel adapter and the reconciler
// records the outcome, retrying transient failures with backoff.
//
// # Options
//
//   - [WithAdapter] registers a channel adapter
//   - [WithExtension] registers a lifecycle extension
//   - [WithMiddleware] adds a middleware to the attempt chain
//   - [WithBackoff] sets the retry backoff strategy
//   - [WithChannelLimits] configures per-channel rate limits and concurrency
//   - [WithTracerProvider] sets the OpenTelemetry tracer provider
//   - [WithMeterProvider] sets the OpenTelemetry meter provider
package engine
