// Package notification defines the notification record, its closed enums,
// the dispatch state machine, the explicit Patch type used for targeted
// updates, and the Store contract every persistence backend implements.
package notification
