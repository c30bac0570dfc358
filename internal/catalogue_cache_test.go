package internal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lychee-technology/orcall"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySnapshots struct {
	stored  map[string]*orcall.Catalogue
	loadErr error
	saveErr error
	saves   int
}

func newMemorySnapshots() *memorySnapshots {
	return &memorySnapshots{stored: make(map[string]*orcall.Catalogue)}
}

func (m *memorySnapshots) Load(_ context.Context, image string) (*orcall.Catalogue, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	cat, ok := m.stored[image]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return cat, nil
}

func (m *memorySnapshots) Save(_ context.Context, image string, cat *orcall.Catalogue) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.stored[image] = cat
	return nil
}

func helloCatalogue() *orcall.Catalogue {
	cat := orcall.NewCatalogue()
	cat.AddProcedure(&orcall.Procedure{
		Name:       "helloworld",
		Parameters: []orcall.Parameter{{Name: "counter", Type: "INTEGER"}},
	})
	return cat
}

func countingFetcher(cat *orcall.Catalogue, err error) (CatalogueFetcher, *int) {
	n := 0
	return func(context.Context) (*orcall.Catalogue, error) {
		n++
		if err != nil {
			return nil, err
		}
		return cat, nil
	}, &n
}

func TestCatalogueCache_FetchesOnceAndSavesSnapshot(t *testing.T) {
	fetch, fetched := countingFetcher(helloCatalogue(), nil)
	snaps := newMemorySnapshots()
	cache := NewCatalogueCache("comtest", 0, fetch, snaps)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		sig, found, err := cache.Signature(ctx, "helloworld")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, orcall.FlatSignature{"counter": orcall.TypeInteger}, sig)
	}
	assert.Equal(t, 1, *fetched)
	assert.Equal(t, 1, snaps.saves)
	assert.Contains(t, snaps.stored, "comtest")
}

func TestCatalogueCache_PrefersSnapshot(t *testing.T) {
	fetch, fetched := countingFetcher(nil, errors.New("should not be called"))
	snaps := newMemorySnapshots()
	snaps.stored["comtest"] = helloCatalogue()
	cache := NewCatalogueCache("comtest", 0, fetch, snaps)

	cat, err := cache.Catalogue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"helloworld"}, cat.ProcedureNames())
	assert.Equal(t, 0, *fetched)
	assert.Equal(t, 0, snaps.saves)
}

func TestCatalogueCache_UnreadableSnapshotFallsBackToFetch(t *testing.T) {
	fetch, fetched := countingFetcher(helloCatalogue(), nil)
	snaps := newMemorySnapshots()
	snaps.loadErr = errors.New("corrupt frame")
	snaps.saveErr = errors.New("bucket is read-only")
	cache := NewCatalogueCache("comtest", 0, fetch, snaps)

	_, err := cache.Catalogue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, *fetched)
}

func TestCatalogueCache_FailureIsRetried(t *testing.T) {
	calls := 0
	fetch := func(context.Context) (*orcall.Catalogue, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("connection refused")
		}
		return helloCatalogue(), nil
	}
	cache := NewCatalogueCache("comtest", 0, fetch, nil)
	ctx := context.Background()

	_, err := cache.Catalogue(ctx)
	require.Error(t, err)
	var callErr *orcall.CallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, orcall.ErrCodeCatalogueUnavailable, callErr.Code)

	_, err = cache.Catalogue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCatalogueCache_ProcedureNotFoundStaysVisible(t *testing.T) {
	fetch, _ := countingFetcher(nil, orcall.NewProcedureNotFoundError(orcall.DefaultCatalogueProcedure))
	cache := NewCatalogueCache("comtest", 0, fetch, nil)

	_, _, err := cache.Signature(context.Background(), "helloworld")
	require.Error(t, err)
	assert.True(t, errors.Is(err, orcall.ErrProcedureNotFound))
}

func TestCatalogueCache_UnknownProcedure(t *testing.T) {
	fetch, _ := countingFetcher(helloCatalogue(), nil)
	cache := NewCatalogueCache("comtest", 0, fetch, nil)

	sig, found, err := cache.Signature(context.Background(), "nosuchproc")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, sig)
}

func TestCatalogueCache_Invalidate(t *testing.T) {
	fetch, fetched := countingFetcher(helloCatalogue(), nil)
	cache := NewCatalogueCache("comtest", 0, fetch, nil)
	ctx := context.Background()

	_, err := cache.Catalogue(ctx)
	require.NoError(t, err)
	cache.Invalidate()
	_, err = cache.Catalogue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, *fetched)
}

func TestCatalogueCache_NoFetcher(t *testing.T) {
	cache := NewCatalogueCache("comtest", 0, nil, nil)
	_, err := cache.Catalogue(context.Background())
	assert.True(t, errors.Is(err, &orcall.CallError{Code: orcall.ErrCodeCatalogueUnavailable}))
}

func TestCatalogueCache_BreakerSuspendsFetches(t *testing.T) {
	fetch, fetched := countingFetcher(nil, errors.New("connection reset"))
	cb, clock := breakerWithClock(2)
	cache := NewCatalogueCache("comtest", 0, fetch, nil).WithBreaker(cb)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := cache.Catalogue(ctx)
		assert.True(t, errors.Is(err, &orcall.CallError{Code: orcall.ErrCodeCatalogueUnavailable}))
	}
	assert.Equal(t, 2, *fetched)

	clock.advance(time.Minute)
	_, err := cache.Catalogue(ctx)
	require.Error(t, err)
	assert.Equal(t, 3, *fetched)
}

func TestCatalogueCache_BreakerIgnoresMissingCatalogueProcedure(t *testing.T) {
	fetch, fetched := countingFetcher(nil, orcall.NewProcedureNotFoundError(orcall.DefaultCatalogueProcedure))
	cb, _ := breakerWithClock(1)
	cache := NewCatalogueCache("comtest", 0, fetch, nil).WithBreaker(cb)

	for i := 0; i < 3; i++ {
		_, err := cache.Catalogue(context.Background())
		assert.True(t, errors.Is(err, orcall.ErrProcedureNotFound))
	}
	assert.Equal(t, 3, *fetched)
	assert.False(t, cb.IsOpen())
}
