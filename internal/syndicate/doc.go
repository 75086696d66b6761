// Package syndicate is the dispatch pipeline: a bounded FIFO queue fed by
// the webhook, a single consumer that plans per-account work, and a bounded
// worker pool that publishes to the platforms. Delivery is at-least-once;
// the mapping store keeps retries idempotent.
package syndicate
