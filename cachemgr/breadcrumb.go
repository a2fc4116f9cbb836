package cachemgr

import (
	"time"

	"github.com/rillfs/rill/oid"
)

// Breadcrumb remembers the last known root catalog of a repository so a
// client can mount from cache while the network is unavailable.
type Breadcrumb struct {
	Catalog   oid.Hash  `cbor:"1,keyasint"`
	Timestamp time.Time `cbor:"2,keyasint"`
	Revision  uint64    `cbor:"3,keyasint"`
}

// IsValid reports whether the breadcrumb points to a catalog.
func (b Breadcrumb) IsValid() bool {
	return !b.Catalog.IsNull() && !b.Timestamp.IsZero()
}
