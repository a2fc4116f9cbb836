package rill

import (
	"github.com/rillfs/rill/cachemgr"
	"github.com/rillfs/rill/oid"
)

// --- Re-exports from oid ---

// Hash identifies an immutable blob by content digest plus class suffix.
type Hash = oid.Hash

// Suffix distinguishes object classes in the cache namespace.
type Suffix = oid.Suffix

// Object class suffixes.
const (
	SuffixNone        = oid.SuffixNone
	SuffixCatalog     = oid.SuffixCatalog
	SuffixHistory     = oid.SuffixHistory
	SuffixPartial     = oid.SuffixPartial
	SuffixCertificate = oid.SuffixCertificate
	SuffixMetainfo    = oid.SuffixMetainfo
)

// --- Re-exports from cachemgr ---

// CacheManager is the cache-manager contract consumed by higher layers.
type CacheManager = cachemgr.Manager

// Txn is a three-phase transactional write into a cache.
type Txn = cachemgr.Txn

// Label carries out-of-band per-request metadata for an object.
type Label = cachemgr.Label

// LabeledObject pairs an object identifier with its request label.
type LabeledObject = cachemgr.LabeledObject

// Breadcrumb remembers the last known root catalog of a repository.
type Breadcrumb = cachemgr.Breadcrumb

// QuotaManager accounts for cache space.
type QuotaManager = cachemgr.QuotaManager

// SizeUnknown marks a Label whose object size is not known up front.
const SizeUnknown = cachemgr.SizeUnknown

// Object classification flags.
const (
	FlagCatalog     = cachemgr.FlagCatalog
	FlagCertificate = cachemgr.FlagCertificate
	FlagPinned      = cachemgr.FlagPinned
	FlagExternal    = cachemgr.FlagExternal
	FlagChunk       = cachemgr.FlagChunk
	FlagVolatile    = cachemgr.FlagVolatile
)

// Wire compression algorithms.
const (
	CompressionZlib = cachemgr.CompressionZlib
	CompressionNone = cachemgr.CompressionNone
	CompressionZstd = cachemgr.CompressionZstd
)
