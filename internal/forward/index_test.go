package forward

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestPutGet(t *testing.T) {
	x := NewIndex(0)
	if err := x.Put(Record{Tag: "ABCD1234", UserID: 42, GroupMessageID: 7}); err != nil {
		t.Fatalf("put: %v", err)
	}
	rec, ok := x.Get("ABCD1234")
	if !ok || rec.UserID != 42 || rec.GroupMessageID != 7 || rec.CreatedAt.IsZero() {
		t.Fatalf("unexpected record %+v ok=%v", rec, ok)
	}
	if _, ok := x.Get("NOPE0000"); ok {
		t.Fatal("unexpected hit for missing tag")
	}
}

func TestPutRejectsDuplicate(t *testing.T) {
	x := NewIndex(0)
	_ = x.Put(Record{Tag: "T1T1", UserID: 1})
	if err := x.Put(Record{Tag: "T1T1", UserID: 2}); !errors.Is(err, ErrDuplicateTag) {
		t.Fatalf("expected ErrDuplicateTag, got %v", err)
	}
	rec, _ := x.Get("T1T1")
	if rec.UserID != 1 {
		t.Fatalf("existing record overwritten: %+v", rec)
	}
}

func TestCapacityEvictsOldest(t *testing.T) {
	x := NewIndex(2)
	for i := 0; i < 3; i++ {
		if err := x.Put(Record{Tag: fmt.Sprintf("TAG%d", i), UserID: int64(i)}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if x.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", x.Len())
	}
	if x.Has("TAG0") {
		t.Fatal("expected oldest tag evicted")
	}
	if !x.Has("TAG1") || !x.Has("TAG2") {
		t.Fatal("expected newest tags kept")
	}
}

func TestUnboundedKeepsEverything(t *testing.T) {
	x := NewIndex(0)
	for i := 0; i < 1000; i++ {
		_ = x.Put(Record{Tag: fmt.Sprintf("TAG%04d", i)})
	}
	if x.Len() != 1000 {
		t.Fatalf("expected 1000 records, got %d", x.Len())
	}
}

func TestConcurrentPut(t *testing.T) {
	x := NewIndex(0)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = x.Put(Record{Tag: fmt.Sprintf("T%03d", i), UserID: int64(i)})
		}(i)
	}
	wg.Wait()
	if x.Len() != 100 {
		t.Fatalf("expected 100 records, got %d", x.Len())
	}
}
