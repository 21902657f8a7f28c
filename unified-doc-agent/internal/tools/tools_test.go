package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRetriever struct {
	queries []string
	records []Record
	err     error
}

func (r *recordingRetriever) Retrieve(_ context.Context, query string, _ int) ([]Record, error) {
	r.queries = append(r.queries, query)
	return r.records, r.err
}

func intPtr(i int) *int { return &i }

func TestRetrievalToolsRewriteQueries(t *testing.T) {
	rr := &recordingRetriever{}
	reg := NewRegistry(RetrievalTools(rr, 3)...)

	for _, name := range []string{SearchDocuments, ExtractRisks, ExtractRewards, FindDefinitions} {
		_, err := reg.Call(context.Background(), name, map[string]any{"query": "X"})
		require.NoError(t, err, name)
	}

	assert.Equal(t, []string{
		"X",
		"risks downsides danger negative limitations of X",
		"benefits advantages rewards positive outcomes of X",
		"definition meaning explanation of term X",
	}, rr.queries)
}

func TestRetrievalToolReturnsJSONRecords(t *testing.T) {
	rr := &recordingRetriever{records: []Record{
		{Content: "x", Source: "A.pdf", Page: intPtr(3)},
		{Content: "y", Source: "B.txt"},
	}}
	reg := NewRegistry(RetrievalTools(rr, 0)...)

	out, err := reg.Call(context.Background(), SearchDocuments, map[string]any{"query": "anything"})
	require.NoError(t, err)

	s, ok := out.(string)
	require.True(t, ok)
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, float64(3), decoded[0]["page"])
	assert.Nil(t, decoded[1]["page"])
}

func TestRetrievalToolRequiresQuery(t *testing.T) {
	reg := NewRegistry(RetrievalTools(&recordingRetriever{}, 0)...)
	_, err := reg.Call(context.Background(), ExtractRisks, map[string]any{"q": "wrong key"})
	require.Error(t, err)
}

func TestRegistryUnknownTool(t *testing.T) {
	reg := NewRegistry(RetrievalTools(&recordingRetriever{}, 0)...)
	_, err := reg.Call(context.Background(), "delete_everything", nil)
	assert.ErrorIs(t, err, ErrUnknownTool)
	assert.Equal(t, []string{ExtractRewards, ExtractRisks, FindDefinitions, SearchDocuments}, reg.Names())
	assert.Len(t, reg.Specs(), 4)
	assert.Equal(t, SearchDocuments, reg.Specs()[0].Name)
}

type countingObserver struct{ hits, misses int }

func (c *countingObserver) CacheHit()  { c.hits++ }
func (c *countingObserver) CacheMiss() { c.misses++ }

func TestCachedRetrieverServesRepeatsFromCache(t *testing.T) {
	rr := &recordingRetriever{records: []Record{{Content: "c", Source: "s"}}}
	obs := &countingObserver{}
	cr := NewCachedRetriever(rr, NewMemoryCache(), time.Minute, obs, nil)

	for i := 0; i < 3; i++ {
		got, err := cr.Retrieve(context.Background(), "q", 6)
		require.NoError(t, err)
		assert.Equal(t, rr.records, got)
	}
	assert.Len(t, rr.queries, 1)
	assert.Equal(t, 2, obs.hits)
	assert.Equal(t, 1, obs.misses)

	_, err := cr.Retrieve(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.Len(t, rr.queries, 2, "k is part of the cache key")
}

func TestCachedRetrieverDoesNotCacheErrors(t *testing.T) {
	rr := &recordingRetriever{err: errors.New("index offline")}
	cr := NewCachedRetriever(rr, NewMemoryCache(), time.Minute, nil, nil)

	_, err := cr.Retrieve(context.Background(), "q", 6)
	require.Error(t, err)
	_, err = cr.Retrieve(context.Background(), "q", 6)
	require.Error(t, err)
	assert.Len(t, rr.queries, 2)
}

// blockingRetriever holds every lookup until release is closed or the
// lookup's context ends.
type blockingRetriever struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingRetriever) Retrieve(ctx context.Context, _ string, _ int) ([]Record, error) {
	b.calls.Add(1)
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return []Record{{Content: "shared", Source: "s"}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type atomicObserver struct{ hits, misses atomic.Int32 }

func (a *atomicObserver) CacheHit()  { a.hits.Add(1) }
func (a *atomicObserver) CacheMiss() { a.misses.Add(1) }

func TestCachedRetrieverCancelledCallerDoesNotFailOthers(t *testing.T) {
	br := &blockingRetriever{started: make(chan struct{}), release: make(chan struct{})}
	obs := &atomicObserver{}
	cr := NewCachedRetriever(br, NewMemoryCache(), time.Minute, obs, nil)

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	errA := make(chan error, 1)
	go func() {
		_, err := cr.Retrieve(ctxA, "q", 6)
		errA <- err
	}()
	<-br.started

	type result struct {
		records []Record
		err     error
	}
	resB := make(chan result, 1)
	go func() {
		records, err := cr.Retrieve(context.Background(), "q", 6)
		resB <- result{records, err}
	}()
	require.Eventually(t, func() bool { return obs.misses.Load() == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(br.release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, []Record{{Content: "shared", Source: "s"}}, b.records)
	assert.EqualValues(t, 1, br.calls.Load())

	got, err := cr.Retrieve(context.Background(), "q", 6)
	require.NoError(t, err)
	assert.Equal(t, b.records, got)
	assert.EqualValues(t, 1, obs.hits.Load())
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(context.Background(), "k", []byte("v"), time.Minute))
	v, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	now = now.Add(2 * time.Minute)
	_, err = c.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
