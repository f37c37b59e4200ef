package redis

// Redis key naming conventions. All keys are prefixed so several
// deployments can share one database.

const defaultPrefix = "notifier:"

type keys struct{ prefix string }

// notification returns the key holding one record: notifier:notification:{id}
func (k keys) notification(id string) string { return k.prefix + "notification:" + id }

// created is the Sorted Set of every ID scored by created_at.
func (k keys) created() string { return k.prefix + "created" }

// status returns the Set of IDs in a status: notifier:status:{status}
func (k keys) status(s string) string { return k.prefix + "status:" + s }

// channel returns the Set of IDs on a channel: notifier:channel:{channel}
func (k keys) channel(c string) string { return k.prefix + "channel:" + c }

// due is the Sorted Set of queued IDs scored by due time.
func (k keys) due() string { return k.prefix + "due" }

// inFlight is the Sorted Set of in_flight IDs scored by claimed_at.
func (k keys) inFlight() string { return k.prefix + "in_flight" }
