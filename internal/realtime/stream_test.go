package realtime

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestStreamPreservesOrderAcrossGoroutines(t *testing.T) {
	s := NewStream[int]()
	go func() {
		for i := 0; i < 100; i++ {
			s.Push(i)
		}
		s.Close()
	}()

	want := 0
	for v := range s.All(context.Background()) {
		if v != want {
			t.Fatalf("got = %d, want %d", v, want)
		}
		want++
	}
	if want != 100 {
		t.Fatalf("received %d values, want 100", want)
	}
}

func TestStreamDrainsAfterClose(t *testing.T) {
	s := StreamOf("a", "b")
	if s.Push("c") {
		t.Fatalf("Push() after Close = true, want false")
	}
	var got []string
	for v := range s.All(context.Background()) {
		got = append(got, v)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("got = %v, want [a b]", got)
	}
}

func TestStreamNextHonorsContext(t *testing.T) {
	s := NewStream[string]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, ok := s.Next(ctx); ok {
		t.Fatalf("Next() ok = true on empty open stream")
	}
	if ctx.Err() == nil {
		t.Fatalf("Next() returned before ctx ended")
	}
}

func TestStreamCloseWakesWaiter(t *testing.T) {
	s := NewStream[int]()
	var wg sync.WaitGroup
	wg.Add(1)
	var ok bool
	go func() {
		defer wg.Done()
		_, ok = s.Next(context.Background())
	}()
	time.Sleep(10 * time.Millisecond)
	s.Close()
	wg.Wait()
	if ok {
		t.Fatalf("Next() ok = true after Close on empty stream")
	}
}

func TestFunctionCallCompleteIsFinal(t *testing.T) {
	f := NewFunctionCallItem("i", "c", "search")
	f.appendArguments(`{"q":`)
	f.appendArguments(`"x"}`)
	f.Complete("")
	f.Complete(`{"q":"other"}`)
	if err := f.WaitForCompletion(context.Background()); err != nil {
		t.Fatalf("WaitForCompletion() error = %v", err)
	}
	if got := f.Arguments(); got != `{"q":"x"}` {
		t.Fatalf("Arguments() = %q, want %q", got, `{"q":"x"}`)
	}
}
