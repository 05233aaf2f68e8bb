package sequence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type memStore struct {
	mu       sync.Mutex
	counters map[string]int64
}

func newMemStore() *memStore {
	return &memStore{counters: make(map[string]int64)}
}

func (s *memStore) NextValue(ctx context.Context, class, prefix, timeBucket string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := class + "|" + prefix + "|" + timeBucket
	s.counters[key]++
	return s.counters[key], nil
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name       string
		class      EntityClass
		prefix     string
		timeBucket string
		n          int64
		want       string
		wantErr    error
	}{
		{
			name:       "receipt first of day",
			class:      EntityReceipt,
			prefix:     "WB",
			timeBucket: "20250110",
			n:          1,
			want:       "WB-20250110-00001",
		},
		{
			name:       "receipt fifth of day",
			class:      EntityReceipt,
			prefix:     "WB",
			timeBucket: "20250110",
			n:          5,
			want:       "WB-20250110-00005",
		},
		{
			name:       "vendor user id",
			class:      EntityUser,
			prefix:     "2",
			timeBucket: "2025",
			n:          7,
			want:       "2-2025-007",
		},
		{
			name:       "individual user id",
			class:      EntityUser,
			prefix:     "1",
			timeBucket: "2025",
			n:          999,
			want:       "1-2025-999",
		},
		{
			name:   "service id",
			class:  EntityService,
			prefix: "SRV",
			n:      42,
			want:   "SRV-0042",
		},
		{
			name:       "receipt width exhausted",
			class:      EntityReceipt,
			prefix:     "WB",
			timeBucket: "20250110",
			n:          100000,
			wantErr:    ErrAllocationExhausted,
		},
		{
			name:       "user width exhausted",
			class:      EntityUser,
			prefix:     "1",
			timeBucket: "2025",
			n:          1000,
			wantErr:    ErrAllocationExhausted,
		},
		{
			name:    "non positive value",
			class:   EntityService,
			prefix:  "SRV",
			n:       0,
			wantErr: ErrAllocationExhausted,
		},
		{
			name:    "unknown class",
			class:   EntityClass("booking"),
			prefix:  "BK",
			n:       1,
			wantErr: ErrUnknownEntityClass,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Format(tt.class, tt.prefix, tt.timeBucket, tt.n)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Format error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Format error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Format = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAllocate_SequentialWithinScope(t *testing.T) {
	alloc := NewAllocator(newMemStore())
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		id, err := alloc.Allocate(ctx, EntityReceipt, "WB", "20250110")
		if err != nil {
			t.Fatalf("Allocate error: %v", err)
		}
		want := fmt.Sprintf("WB-20250110-%05d", i)
		if id != want {
			t.Fatalf("Allocate #%d = %q, want %q", i, id, want)
		}
	}
}

func TestAllocate_UniqueUnderConcurrency(t *testing.T) {
	const n = 1000

	alloc := NewAllocator(newMemStore())
	ctx := context.Background()

	ids := make(chan string, n)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := alloc.Allocate(ctx, EntityReceipt, "WB", "20250110")
			if err != nil {
				t.Errorf("Allocate error: %v", err)
				return
			}
			ids <- id
		}()
	}

	wg.Wait()
	close(ids)

	seen := make(map[string]struct{}, n)
	for id := range ids {
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate identifier allocated: %s", id)
		}
		seen[id] = struct{}{}
	}

	if len(seen) != n {
		t.Fatalf("allocated %d distinct identifiers, want %d", len(seen), n)
	}
}

func TestAllocate_ScopesAreIndependent(t *testing.T) {
	store := newMemStore()
	alloc := NewAllocator(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := alloc.Allocate(ctx, EntityReceipt, "WB", "20250110"); err != nil {
			t.Fatalf("Allocate error: %v", err)
		}
	}

	id, err := alloc.Allocate(ctx, EntityReceipt, "WB", "20250111")
	if err != nil {
		t.Fatalf("Allocate error: %v", err)
	}
	if id != "WB-20250111-00001" {
		t.Fatalf("next-day scope = %q, want WB-20250111-00001", id)
	}

	uid, err := alloc.Allocate(ctx, EntityUser, "2", "2025")
	if err != nil {
		t.Fatalf("Allocate error: %v", err)
	}
	if uid != "2-2025-001" {
		t.Fatalf("user scope = %q, want 2-2025-001", uid)
	}
}

func TestAllocate_StoreErrorPropagates(t *testing.T) {
	wantErr := errors.New("store unavailable")
	alloc := NewAllocator(errStore{err: wantErr})

	_, err := alloc.Allocate(context.Background(), EntityService, "SRV", "")
	if !errors.Is(err, wantErr) {
		t.Fatalf("Allocate error = %v, want %v", err, wantErr)
	}
}

type errStore struct {
	err error
}

func (s errStore) NextValue(ctx context.Context, class, prefix, timeBucket string) (int64, error) {
	return 0, s.err
}

func TestDayBucketUTC(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*60*60)
	// 01:30 десятого января по Маниле — ещё девятое января по UTC.
	local := time.Date(2025, 1, 10, 1, 30, 0, 0, loc)

	if got := DayBucket(local); got != "20250109" {
		t.Fatalf("DayBucket = %q, want 20250109", got)
	}
	if got := YearBucket(local); got != "2025" {
		t.Fatalf("YearBucket = %q, want 2025", got)
	}
}
