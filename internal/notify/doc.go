// Package notify is a fire-and-forget Pushover-style notifier: a bounded
// queue drained by a small worker pool with rate limiting, retry with
// backoff, and a dedup window. Notification failures are logged and
// swallowed; nothing in the dispatch pipeline ever waits on a phone.
package notify
