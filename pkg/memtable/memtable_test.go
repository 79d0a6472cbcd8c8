package memtable

import (
	"fmt"
	"sync"
	"testing"
)

func TestMemTableGetDistinguishesTombstones(t *testing.T) {
	mt := NewMemTable()
	mt.Put([]byte("kept"), []byte("v1"), 1)
	mt.Put([]byte("gone"), []byte("v2"), 2)
	mt.Delete([]byte("gone"), 3)
	mt.Delete([]byte("never-written"), 4)

	tests := []struct {
		key   string
		value []byte
		found bool
	}{
		{key: "kept", value: []byte("v1"), found: true},
		{key: "gone", value: nil, found: true},
		{key: "never-written", value: nil, found: true},
		{key: "absent", value: nil, found: false},
	}

	for _, tc := range tests {
		t.Run(tc.key, func(t *testing.T) {
			value, found := mt.Get([]byte(tc.key))
			if found != tc.found {
				t.Fatalf("expected found=%v, got %v", tc.found, found)
			}
			if string(value) != string(tc.value) || (tc.value == nil) != (value == nil) {
				t.Errorf("expected value %q, got %q", tc.value, value)
			}
			if mt.Contains([]byte(tc.key)) != tc.found {
				t.Errorf("expected Contains=%v", tc.found)
			}
		})
	}
}

func TestMemTableNewestSequenceWins(t *testing.T) {
	mt := NewMemTable()

	// Arrival order differs from sequence order
	mt.Put([]byte("k"), []byte("seq5"), 5)
	mt.Delete([]byte("k"), 3)
	mt.Put([]byte("k"), []byte("seq1"), 1)

	value, found := mt.Get([]byte("k"))
	if !found || string(value) != "seq5" {
		t.Fatalf("expected seq5, got %q found=%v", value, found)
	}

	// A newer tombstone hides every older value
	mt.Delete([]byte("k"), 8)
	value, found = mt.Get([]byte("k"))
	if !found || value != nil {
		t.Fatalf("expected a tombstone, got %q found=%v", value, found)
	}

	if mt.Len() != 4 {
		t.Errorf("expected all 4 versions retained, got %d", mt.Len())
	}
}

func TestMemTableNextSequenceNumber(t *testing.T) {
	mt := NewMemTable()
	if got := mt.GetNextSequenceNumber(); got != 0 {
		t.Fatalf("expected 0 on an empty table, got %d", got)
	}

	steps := []struct {
		op   string
		seq  uint64
		want uint64
	}{
		{"put", 10, 11},
		{"put", 4, 11},
		{"delete", 11, 12},
		{"delete", 2, 12},
		{"put", 20, 21},
	}
	for _, s := range steps {
		if s.op == "put" {
			mt.Put([]byte("k"), []byte("v"), s.seq)
		} else {
			mt.Delete([]byte("k"), s.seq)
		}
		if got := mt.GetNextSequenceNumber(); got != s.want {
			t.Errorf("after %s@%d: expected next %d, got %d", s.op, s.seq, s.want, got)
		}
	}
}

func TestMemTableIteratorExposesVersions(t *testing.T) {
	mt := NewMemTable()
	mt.Put([]byte("b"), []byte("b-old"), 1)
	mt.Delete([]byte("a"), 4)
	mt.Put([]byte("b"), []byte("b-new"), 3)
	mt.Put([]byte("a"), []byte("a-old"), 2)

	it := mt.NewIterator()
	it.SeekToFirst()

	want := []struct {
		key  string
		val  string
		seq  uint64
		tomb bool
	}{
		{"a", "", 4, true},
		{"a", "a-old", 2, false},
		{"b", "b-new", 3, false},
		{"b", "b-old", 1, false},
	}
	for i, w := range want {
		if !it.Valid() {
			t.Fatalf("iterator exhausted at position %d", i)
		}
		if string(it.Key()) != w.key || it.SequenceNumber() != w.seq || it.IsTombstone() != w.tomb {
			t.Errorf("position %d: expected %s@%d tomb=%v, got %s@%d tomb=%v",
				i, w.key, w.seq, w.tomb, it.Key(), it.SequenceNumber(), it.IsTombstone())
		}
		if string(it.Value()) != w.val {
			t.Errorf("position %d: expected value %q, got %q", i, w.val, it.Value())
		}
		it.Next()
	}
	if it.Valid() {
		t.Error("expected the iterator to be exhausted")
	}

	it.Seek([]byte("b"))
	if !it.Valid() || string(it.Value()) != "b-new" {
		t.Errorf("expected Seek to land on the newest version of b")
	}
}

func TestMemTableImmutableIgnoresWrites(t *testing.T) {
	mt := NewMemTable()
	mt.Put([]byte("k"), []byte("v"), 1)
	sizeBefore := mt.ApproximateSize()

	mt.SetImmutable()
	if !mt.IsImmutable() {
		t.Fatal("expected the table to be immutable")
	}

	mt.Put([]byte("k"), []byte("late"), 9)
	mt.Delete([]byte("k"), 10)
	mt.Put([]byte("other"), []byte("late"), 11)

	if value, _ := mt.Get([]byte("k")); string(value) != "v" {
		t.Errorf("expected k to keep v, got %q", value)
	}
	if mt.Contains([]byte("other")) {
		t.Error("expected a write after freezing to be dropped")
	}
	if mt.ApproximateSize() != sizeBefore || mt.Len() != 1 {
		t.Errorf("expected size and length unchanged, got size %d len %d", mt.ApproximateSize(), mt.Len())
	}
	if mt.GetNextSequenceNumber() != 2 {
		t.Errorf("expected next sequence to stay 2, got %d", mt.GetNextSequenceNumber())
	}
}

func TestMemTableCopiesCallerBuffers(t *testing.T) {
	mt := NewMemTable()

	key := []byte("key")
	value := []byte("value")
	mt.Put(key, value, 1)
	tomb := []byte("dead")
	mt.Delete(tomb, 2)

	key[0], value[0], tomb[0] = 'X', 'X', 'X'

	if got, found := mt.Get([]byte("key")); !found || string(got) != "value" {
		t.Errorf("expected stored value to be unaffected, got %q found=%v", got, found)
	}
	if !mt.Contains([]byte("dead")) {
		t.Error("expected the tombstone key to be copied")
	}
}

func TestMemTableReadersDuringWrites(t *testing.T) {
	mt := NewMemTable()

	const keys = 200
	for i := 0; i < keys; i++ {
		mt.Put([]byte(fmt.Sprintf("k%03d", i)), []byte("v0"), uint64(i+1))
	}

	// One writer layers newer versions and tombstones over the base keys
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		seq := uint64(keys + 1)
		for round := 1; round <= 5; round++ {
			for i := 0; i < keys; i++ {
				key := []byte(fmt.Sprintf("k%03d", i))
				if i%3 == 0 {
					mt.Delete(key, seq)
				} else {
					mt.Put(key, []byte(fmt.Sprintf("v%d", round)), seq)
				}
				seq++
			}
		}
	}()

	const readers = 4
	errs := make(chan error, readers)
	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 1000; n++ {
				key := []byte(fmt.Sprintf("k%03d", n%keys))
				if _, found := mt.Get(key); !found {
					errs <- fmt.Errorf("lost %s", key)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	for i := 0; i < keys; i++ {
		value, _ := mt.Get([]byte(fmt.Sprintf("k%03d", i)))
		switch {
		case i%3 == 0 && value != nil:
			t.Errorf("k%03d: expected a tombstone, got %q", i, value)
		case i%3 != 0 && string(value) != "v5":
			t.Errorf("k%03d: expected v5, got %q", i, value)
		}
	}
	if mt.Len() != keys*6 {
		t.Errorf("expected %d versions, got %d", keys*6, mt.Len())
	}
}
