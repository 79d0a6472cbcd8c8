package merge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KevoDB/kmerge/pkg/common/iterator"
	"github.com/KevoDB/kmerge/pkg/common/log"
)

var errSourceFailed = errors.New("source failed")

// mockIterator is an in-memory source. Advancing away from position failAt
// returns errSourceFailed.
type mockIterator struct {
	entries []iterator.Entry
	pos     int
	failAt  int
	nexts   int
}

func newMockIterator(pairs ...string) *mockIterator {
	if len(pairs)%2 != 0 {
		panic("pairs must be key/value")
	}
	m := &mockIterator{failAt: -1}
	for i := 0; i < len(pairs); i += 2 {
		m.entries = append(m.entries, iterator.Entry{
			Key:   []byte(pairs[i]),
			Value: []byte(pairs[i+1]),
		})
	}
	return m
}

func (m *mockIterator) failingAt(pos int) *mockIterator {
	m.failAt = pos
	return m
}

func (m *mockIterator) Key() []byte   { return m.entries[m.pos].Key }
func (m *mockIterator) Value() []byte { return m.entries[m.pos].Value }
func (m *mockIterator) Valid() bool   { return m.pos < len(m.entries) }

func (m *mockIterator) Next() error {
	m.nexts++
	if m.pos == m.failAt {
		return fmt.Errorf("advance from %d: %w", m.pos, errSourceFailed)
	}
	m.pos++
	return nil
}

func collectAll(t *testing.T, it iterator.Iterator) []string {
	t.Helper()
	entries, err := iterator.Collect(it)
	require.NoError(t, err)

	var out []string
	for _, e := range entries {
		out = append(out, string(e.Key)+"="+string(e.Value))
	}
	return out
}

func TestMergeIterator_RecencyWins(t *testing.T) {
	a := newMockIterator("1", "a1", "3", "a3")
	b := newMockIterator("1", "b1", "2", "b2")
	c := newMockIterator("2", "c2", "3", "c3")

	m := New([]*mockIterator{a, b, c})

	assert.Equal(t, []string{"1=a1", "2=b2", "3=a3"}, collectAll(t, m))
	assert.False(t, m.Valid())
	assert.Equal(t, Stats{Emitted: 3, Shadowed: 3}, m.Stats())
}

func TestMergeIterator_Empty(t *testing.T) {
	m := New([]*mockIterator{})
	assert.False(t, m.Valid())
	assert.Equal(t, 0, m.NumSources())

	m = New[*mockIterator](nil)
	assert.False(t, m.Valid())
}

func TestMergeIterator_AllSourcesInvalid(t *testing.T) {
	m := New([]*mockIterator{newMockIterator(), newMockIterator()})
	assert.False(t, m.Valid())
	assert.Equal(t, 0, m.NumSources())
}

func TestMergeIterator_SingleSource(t *testing.T) {
	d := newMockIterator("5", "x")
	m := New([]*mockIterator{d})

	require.True(t, m.Valid())
	assert.Equal(t, []byte("5"), m.Key())
	assert.Equal(t, []byte("x"), m.Value())

	require.NoError(t, m.Next())
	assert.False(t, m.Valid())
}

func TestMergeIterator_SkipsEmptySources(t *testing.T) {
	m := New([]*mockIterator{
		newMockIterator(),
		newMockIterator("a", "segment_a", "b", "segment_b"),
		newMockIterator(),
	})

	assert.Equal(t, 1, m.NumSources())
	assert.Equal(t, []string{"a=segment_a", "b=segment_b"}, collectAll(t, m))
}

func TestMergeIterator_Interleaved(t *testing.T) {
	m := New([]*mockIterator{
		newMockIterator("b", "memtable_b"),
		newMockIterator("a", "segment_a", "c", "segment_c"),
	})

	assert.Equal(t, []string{"a=segment_a", "b=memtable_b", "c=segment_c"}, collectAll(t, m))
}

func TestMergeIterator_Nested(t *testing.T) {
	mem := New([]*mockIterator{
		newMockIterator("apple", "mem0_apple", "dog", "mem0_dog"),
		newMockIterator("apple", "mem1_apple", "cat", "mem1_cat"),
	})
	sst := New([]*mockIterator{
		newMockIterator("banana", "sst0_banana", "cat", "sst0_cat"),
		newMockIterator("apple", "sst1_apple", "banana", "sst1_banana", "eel", "sst1_eel"),
	})

	top := New([]iterator.Iterator{mem, sst})

	assert.Equal(t, []string{
		"apple=mem0_apple",
		"banana=sst0_banana",
		"cat=mem1_cat",
		"dog=mem0_dog",
		"eel=sst1_eel",
	}, collectAll(t, top))
}

func TestMergeIterator_CustomComparator(t *testing.T) {
	reverse := func(a, b []byte) int { return bytes.Compare(b, a) }

	m := New([]*mockIterator{
		newMockIterator("c", "0c", "a", "0a"),
		newMockIterator("c", "1c", "b", "1b"),
	}, WithComparator(reverse))

	assert.Equal(t, []string{"c=0c", "b=1b", "a=0a"}, collectAll(t, m))
}

func TestMergeIterator_DrainFailure(t *testing.T) {
	a := newMockIterator("1", "a1", "3", "a3")
	b := newMockIterator("1", "b1", "2", "b2").failingAt(0)

	var buf bytes.Buffer
	logger := log.NewStandardLogger(log.WithOutput(&buf))
	m := New([]*mockIterator{a, b}, WithLogger(logger))

	err := m.Next()
	require.Error(t, err)
	assert.ErrorIs(t, err, errSourceFailed)

	// The current entry is untouched and the failing source is gone
	require.True(t, m.Valid())
	assert.Equal(t, []byte("1"), m.Key())
	assert.Equal(t, []byte("a1"), m.Value())
	assert.Equal(t, 1, m.NumSources())
	assert.Equal(t, uint64(1), m.Stats().Evicted)
	assert.Zero(t, m.Stats().Shadowed, "a failed advance skipped nothing")
	assert.Equal(t, 0, a.nexts, "current must not advance when draining fails")
	assert.Contains(t, buf.String(), "source=1")

	// A retry never touches the evicted source again, so key 2 is lost with it
	require.NoError(t, m.Next())
	assert.Equal(t, []string{"3=a3"}, collectAll(t, m))
	assert.Equal(t, 1, b.nexts)
}

func TestMergeIterator_DrainFailureCountsOnlySkipped(t *testing.T) {
	a := newMockIterator("1", "a1", "2", "a2")
	b := newMockIterator("1", "b1", "2", "b2")
	c := newMockIterator("1", "c1", "2", "c2").failingAt(0)

	m := New([]*mockIterator{a, b, c})

	err := m.Next()
	assert.ErrorIs(t, err, errSourceFailed)
	assert.Equal(t, uint64(1), m.Stats().Shadowed)
	assert.Equal(t, uint64(1), m.Stats().Evicted)

	require.NoError(t, m.Next())
	assert.Equal(t, []string{"2=a2"}, collectAll(t, m))
	assert.Equal(t, uint64(2), m.Stats().Shadowed)
}

func TestMergeIterator_CurrentFailure(t *testing.T) {
	a := newMockIterator("1", "a1", "3", "a3").failingAt(0)
	b := newMockIterator("2", "b2")

	m := New([]*mockIterator{a, b})

	err := m.Next()
	assert.ErrorIs(t, err, errSourceFailed)
	assert.False(t, m.Valid())
	assert.Equal(t, 1, m.NumSources())
}

func TestMergeIterator_ContractViolationPanics(t *testing.T) {
	m := New([]*mockIterator{newMockIterator("k", "v")})
	require.NoError(t, m.Next())

	for name, fn := range map[string]func(){
		"Key":   func() { m.Key() },
		"Value": func() { m.Value() },
		"Next":  func() { _ = m.Next() },
	} {
		t.Run(name, func(t *testing.T) {
			defer func() {
				r := recover()
				require.NotNil(t, r)
				err, ok := r.(error)
				require.True(t, ok)
				assert.ErrorIs(t, err, ErrNoCurrentEntry)
			}()
			fn()
		})
	}
}

func TestMergeIterator_OrderViolationPanics(t *testing.T) {
	// The second source goes backwards after the shared key
	m := New([]*mockIterator{
		newMockIterator("3", "a3", "9", "a9"),
		newMockIterator("3", "b3", "1", "b1"),
	})

	defer func() {
		r := recover()
		require.NotNil(t, r)
		assert.ErrorIs(t, r.(error), ErrOrderViolation)
	}()
	_ = m.Next()
	t.Fatal("expected panic")
}

// TestMergeIterator_RandomizedAgainstReference checks global ordering,
// strict monotonicity and first-source-wins against a map-based model.
func TestMergeIterator_RandomizedAgainstReference(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		numSources := rng.Intn(8)
		sources := make([]*mockIterator, numSources)
		expected := make(map[string]string)

		for s := 0; s < numSources; s++ {
			keys := make(map[string]bool)
			for i := rng.Intn(30); i > 0; i-- {
				keys[fmt.Sprintf("key%03d", rng.Intn(60))] = true
			}
			sorted := make([]string, 0, len(keys))
			for k := range keys {
				sorted = append(sorted, k)
			}
			sort.Strings(sorted)

			var pairs []string
			for _, k := range sorted {
				v := fmt.Sprintf("s%d-%s", s, k)
				pairs = append(pairs, k, v)
				if _, ok := expected[k]; !ok {
					expected[k] = v
				}
			}
			sources[s] = newMockIterator(pairs...)
		}

		m := New(sources)

		var prev []byte
		seen := 0
		for m.Valid() {
			if prev != nil {
				require.Negative(t, bytes.Compare(prev, m.Key()), "keys must strictly increase")
			}
			require.Equal(t, expected[string(m.Key())], string(m.Value()))
			prev = append(prev[:0], m.Key()...)
			seen++
			require.NoError(t, m.Next())
		}
		require.Equal(t, len(expected), seen)
	}
}

type recordingMetrics struct {
	noopMetrics
	created  [][2]int
	nexts    int
	shadowed int
	failures []int
}

func (r *recordingMetrics) RecordCreate(ctx context.Context, sources, live int) {
	r.created = append(r.created, [2]int{sources, live})
}

func (r *recordingMetrics) RecordNext(ctx context.Context, d time.Duration, valid bool) {
	r.nexts++
}

func (r *recordingMetrics) RecordShadowed(ctx context.Context, n int) {
	r.shadowed += n
}

func (r *recordingMetrics) RecordSourceFailure(ctx context.Context, index int) {
	r.failures = append(r.failures, index)
}

func TestMergeIterator_Metrics(t *testing.T) {
	rec := &recordingMetrics{}
	m := New([]*mockIterator{
		newMockIterator("1", "a1", "2", "a2"),
		newMockIterator(),
		newMockIterator("1", "c1", "2", "c2").failingAt(1),
	}, WithMetrics(rec))

	require.NoError(t, m.Next())
	assert.ErrorIs(t, m.Next(), errSourceFailed)

	assert.Equal(t, [][2]int{{3, 2}}, rec.created)
	assert.Equal(t, 1, rec.nexts)
	assert.Equal(t, 2, rec.shadowed)
	assert.Equal(t, []int{2}, rec.failures)
}

func TestMergeIterator_IsTombstone(t *testing.T) {
	m := New([]*mockIterator{
		{entries: []iterator.Entry{{Key: []byte("a"), Value: nil}}, failAt: -1},
		newMockIterator("a", "old", "b", "live"),
	})

	require.True(t, m.IsTombstone())
	require.NoError(t, m.Next())
	assert.False(t, m.IsTombstone())
	assert.True(t, strings.HasPrefix(string(m.Value()), "live"))
}
