// Package cache provides the layered object caches used by the SDK.
//
// Three pieces compose:
//   - LRU: a generic in-memory cache bounded by entry count
//   - Disk: a compressed on-disk cache shared across processes, bounded
//     by file count with oldest-first eviction
//   - Ref: the two layered together, memory first, with disk hits
//     promoted into memory
//
// Cache failures are never fatal. A damaged, stale, or unavailable disk
// cache degrades to a miss and the caller refetches from the API.
package cache
