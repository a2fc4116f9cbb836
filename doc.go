// Package rill provides the client-side content cache of a
// content-addressed read-only filesystem.
//
// The cache layer turns cryptographic object identifiers into bytes. Reads
// are served from a local persistent cache when possible; missing objects
// are fetched through a pluggable download transport. Regular data objects
// can be streamed on demand without ever touching the disk, while catalogs
// and pinned objects always materialize in the backing cache.
//
// # Components
//
//   - cachemgr: the cache-manager contract (descriptors, transactions,
//     breadcrumbs, quota) shared by all implementations
//   - cachemgr/posix: a disk-backed cache manager with atomic transaction
//     commits and quarantine of corrupt objects
//   - cachemgr/stream: a streaming shim that serves regular objects
//     straight from the network
//   - fetch: the download coalescer binding at most one in-flight
//     download per object to a cache transaction
//   - download: the transport contract plus an HTTP implementation
//   - lru: a fixed-capacity, pool-allocated LRU cache for metadata
//   - oid: content-addressed object identifiers
//
// # Typical wiring
//
//	backing, err := posix.New("/var/cache/repo")
//	if err != nil {
//		return err
//	}
//	dl := download.NewHTTPManager("https://host/repo")
//	cache := stream.New(1024, backing, dl)
//	fetcher := fetch.New(backing, dl)
//
// Higher layers open objects on the streaming cache manager for regular
// reads and use the fetcher for catalogs and pinned objects.
package rill
