// Package interactions pulls engagement (likes, reposts, replies) back from
// the platforms for syndicated posts and keeps one aggregated snapshot per
// post in storage. A background scheduler polls tracked posts on an adaptive
// cadence; the read API and the manual sync endpoint use the same service.
package interactions
