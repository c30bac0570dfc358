package internal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lychee-technology/orcall"
	"go.uber.org/zap"
)

// ErrSnapshotNotFound is returned by a SnapshotStore that holds no catalogue for an image.
var ErrSnapshotNotFound = errors.New("catalogue snapshot not found")

// SnapshotStore persists fetched catalogues so later processes can skip the remote fetch.
type SnapshotStore interface {
	Load(ctx context.Context, image string) (*orcall.Catalogue, error)
	Save(ctx context.Context, image string, cat *orcall.Catalogue) error
}

// CatalogueFetcher retrieves the catalogue from the connected application.
type CatalogueFetcher func(ctx context.Context) (*orcall.Catalogue, error)

// CatalogueCache holds the catalogue of one application and the signatures
// derived from it. The catalogue is loaded once; a failed load is retried on
// the next request.
type CatalogueCache struct {
	mu sync.RWMutex

	image     string
	maxDepth  int
	fetch     CatalogueFetcher
	snapshots SnapshotStore
	breaker   *CircuitBreaker

	catalogue  *orcall.Catalogue
	signatures map[string]orcall.FlatSignature
}

// NewCatalogueCache creates a cache for image. snapshots may be nil.
func NewCatalogueCache(image string, maxDepth int, fetch CatalogueFetcher, snapshots SnapshotStore) *CatalogueCache {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxRecordDepth
	}
	return &CatalogueCache{
		image:      image,
		maxDepth:   maxDepth,
		fetch:      fetch,
		snapshots:  snapshots,
		signatures: make(map[string]orcall.FlatSignature),
	}
}

// WithBreaker suspends remote fetches while cb is open.
func (c *CatalogueCache) WithBreaker(cb *CircuitBreaker) *CatalogueCache {
	c.breaker = cb
	return c
}

// Catalogue returns the cached catalogue, loading it on first use.
func (c *CatalogueCache) Catalogue(ctx context.Context) (*orcall.Catalogue, error) {
	c.mu.RLock()
	cat := c.catalogue
	c.mu.RUnlock()
	if cat != nil {
		return cat, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.catalogue != nil {
		return c.catalogue, nil
	}
	cat, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	c.catalogue = cat
	zap.S().Infow("Loaded application catalogue", "image", c.image,
		"procedures", len(cat.Procedures), "record_types", len(cat.RecordTypes))
	return cat, nil
}

func (c *CatalogueCache) load(ctx context.Context) (*orcall.Catalogue, error) {
	if c.snapshots != nil {
		start := time.Now()
		cat, err := c.snapshots.Load(ctx, c.image)
		switch {
		case err == nil:
			EmitCatalogueFetch(ctx, "snapshot", time.Since(start).Milliseconds())
			return cat, nil
		case errors.Is(err, ErrSnapshotNotFound):
			zap.S().Debugw("no catalogue snapshot", "image", c.image)
		default:
			zap.S().Warnw("catalogue snapshot unreadable; fetching from application", "image", c.image, "error", err)
		}
	}

	if c.fetch == nil {
		return nil, orcall.NewCatalogueUnavailableError(fmt.Errorf("no catalogue source configured"))
	}
	if until := c.breaker.OpenUntil(); !until.IsZero() {
		return nil, orcall.NewCatalogueUnavailableError(
			fmt.Errorf("catalogue fetch suspended until %s after repeated failures", until.Format(time.RFC3339)))
	}
	start := time.Now()
	cat, err := c.fetch(ctx)
	if err != nil {
		// An application without a catalogue procedure answered; that is not an outage.
		if !errors.Is(err, orcall.ErrProcedureNotFound) {
			c.breaker.RecordFailure()
			if c.breaker.IsOpen() {
				zap.S().Warnw("suspending catalogue fetches", "image", c.image, "until", c.breaker.OpenUntil(), "error", err)
			}
		}
		var callErr *orcall.CallError
		if errors.As(err, &callErr) && callErr.Code == orcall.ErrCodeCatalogueUnavailable {
			return nil, err
		}
		return nil, orcall.NewCatalogueUnavailableError(err)
	}
	c.breaker.RecordSuccess()
	EmitCatalogueFetch(ctx, "remote", time.Since(start).Milliseconds())

	if c.snapshots != nil {
		if err := c.snapshots.Save(ctx, c.image, cat); err != nil {
			zap.S().Warnw("failed to save catalogue snapshot", "image", c.image, "error", err)
		}
	}
	return cat, nil
}

// Signature returns the signature of procedure derived from the catalogue.
// found is false when the catalogue does not describe the procedure.
func (c *CatalogueCache) Signature(ctx context.Context, procedure string) (orcall.FlatSignature, bool, error) {
	c.mu.RLock()
	sig, ok := c.signatures[procedure]
	c.mu.RUnlock()
	if ok {
		return sig, true, nil
	}

	cat, err := c.Catalogue(ctx)
	if err != nil {
		return nil, false, err
	}
	sig, found, err := signatureForProcedure(cat, procedure, c.maxDepth)
	if err != nil || !found {
		return nil, found, err
	}

	c.mu.Lock()
	c.signatures[procedure] = sig
	c.mu.Unlock()
	return sig, true, nil
}

// ExpandNamedTypes resolves record type names used as tags in sig against
// the catalogue. sig is returned unchanged when it only uses fixed tags.
func (c *CatalogueCache) ExpandNamedTypes(ctx context.Context, sig orcall.FlatSignature) (orcall.FlatSignature, error) {
	if len(NamedTypes(sig)) == 0 {
		return sig, nil
	}
	cat, err := c.Catalogue(ctx)
	if errors.Is(err, orcall.ErrProcedureNotFound) {
		path := NamedTypes(sig)[0]
		return nil, orcall.NewUnsupportedValueTypeError(path,
			fmt.Sprintf("unknown type %s: the application publishes no catalogue", sig[path])).WithCause(err)
	}
	if err != nil {
		return nil, err
	}
	return ExpandNamedTypes(cat, sig, c.maxDepth)
}

// Invalidate drops the cached catalogue and derived signatures.
func (c *CatalogueCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.catalogue = nil
	c.signatures = make(map[string]orcall.FlatSignature)
}
