// Package httpapi is the relay's HTTP surface: the webhook intake, the
// catch-up trigger, the interactions read API, the manual sync trigger, and
// liveness. Everything that leaves this package is sanitized; raw errors
// stay in the logs.
package httpapi
