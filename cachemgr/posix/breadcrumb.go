package posix

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"

	"github.com/rillfs/rill/cachemgr"
)

// Breadcrumbs are persisted CBOR-encoded next to the cache data so a
// client can find its last root catalog without network access.

func loadBreadcrumb(path string) (cachemgr.Breadcrumb, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cachemgr.Breadcrumb{}, false
	}
	var b cachemgr.Breadcrumb
	if err := cbor.Unmarshal(data, &b); err != nil {
		return cachemgr.Breadcrumb{}, false
	}
	return b, b.IsValid()
}

func storeBreadcrumb(path string, b cachemgr.Breadcrumb) error {
	data, err := cbor.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode breadcrumb: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "breadcrumb-*")
	if err != nil {
		return fmt.Errorf("store breadcrumb: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("store breadcrumb: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("store breadcrumb: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("store breadcrumb: %w", err)
	}
	return nil
}
