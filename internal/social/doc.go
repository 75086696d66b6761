// Package social holds the platform clients and the per-account message
// pipeline: tag filtering, message composition with truncation, multi-image
// split planning, and the registry that maps configured accounts to live
// clients.
package social
