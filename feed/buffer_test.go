// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package feed

import (
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestBuffer_PushEvictsOldest(t *testing.T) {
	b := NewBuffer(3)
	for i := 1; i <= 3; i++ {
		if b.Push(sampleAt(i)) {
			t.Errorf("Push(%d) evicted before buffer was full", i)
		}
	}
	if !b.Push(sampleAt(4)) {
		t.Error("Push() on a full buffer should report eviction")
	}

	got := b.Samples()
	want := []Sample{sampleAt(2), sampleAt(3), sampleAt(4)}
	if len(got) != len(want) {
		t.Fatalf("Len() = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Samples()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestBuffer_ArrivalOrderNotTimestampOrder(t *testing.T) {
	b := NewBuffer(DefaultBufferSize)
	b.Push(sampleAt(5))
	b.Push(sampleAt(1))

	got := b.Samples()
	if got[0] != sampleAt(5) || got[1] != sampleAt(1) {
		t.Errorf("live pushes must keep arrival order, got %v", got)
	}
}

func TestBuffer_Unbounded(t *testing.T) {
	b := NewBuffer(0)
	for i := range 500 {
		if b.Push(sampleAt(i)) {
			t.Fatal("unbounded buffer should never evict")
		}
	}
	if b.Len() != 500 {
		t.Errorf("Len() = %d, want 500", b.Len())
	}
	if b.Capacity() != 0 {
		t.Errorf("Capacity() = %d, want 0", b.Capacity())
	}
}

func TestBuffer_ReplaceSortsAndCopies(t *testing.T) {
	in := []Sample{sampleAt(3), sampleAt(1), sampleAt(2)}
	b := NewBuffer(0)
	b.Replace(in)

	in[0] = sampleAt(99)

	got := b.Samples()
	for i, want := range []Sample{sampleAt(1), sampleAt(2), sampleAt(3)} {
		if got[i] != want {
			t.Errorf("Samples()[%d] = %v, want %v", i, got[i], want)
		}
	}
}

func TestBuffer_ReplaceBoundedKeepsNewest(t *testing.T) {
	b := NewBuffer(2)
	b.Replace([]Sample{sampleAt(1), sampleAt(4), sampleAt(2), sampleAt(3)})

	got := b.Samples()
	if len(got) != 2 || got[0] != sampleAt(3) || got[1] != sampleAt(4) {
		t.Errorf("Samples() = %v, want [t3 t4]", got)
	}
}

func TestBuffer_SamplesIsACopy(t *testing.T) {
	b := NewBuffer(4)
	b.Push(sampleAt(1))

	out := b.Samples()
	out[0] = sampleAt(42)

	if last, _ := b.Last(); last != sampleAt(1) {
		t.Errorf("mutating Samples() result changed the buffer: %v", last)
	}
}

func TestBuffer_ResetAndLast(t *testing.T) {
	b := NewBuffer(4)
	if _, ok := b.Last(); ok {
		t.Error("Last() on empty buffer should report false")
	}
	b.Push(sampleAt(1))
	b.Push(sampleAt(2))
	if last, ok := b.Last(); !ok || last != sampleAt(2) {
		t.Errorf("Last() = %v, %v", last, ok)
	}
	b.Reset()
	if b.Len() != 0 {
		t.Errorf("Len() after Reset() = %d", b.Len())
	}
	b.Push(sampleAt(3))
	if b.Len() != 1 {
		t.Errorf("Len() after Reset()+Push() = %d", b.Len())
	}
}

// Whatever arrives, a bounded buffer holds min(n, capacity) samples and
// they are exactly the last ones pushed, in arrival order.
func TestBuffer_BoundProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 120).Draw(t, "capacity")
		offsets := rapid.SliceOfN(rapid.IntRange(-3600, 3600), 0, 400).Draw(t, "offsets")

		b := NewBuffer(capacity)
		pushed := make([]Sample, 0, len(offsets))
		for i, off := range offsets {
			s := Sample{Timestamp: baseTime.Add(time.Duration(off) * time.Second), Value: float64(i)}
			b.Push(s)
			pushed = append(pushed, s)
		}

		want := pushed
		if len(want) > capacity {
			want = want[len(want)-capacity:]
		}
		got := b.Samples()
		if len(got) != len(want) {
			t.Fatalf("Len() = %d, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("Samples()[%d] = %v, want %v", i, got[i], want[i])
			}
		}
	})
}

func TestBuffer_ReplaceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		offsets := rapid.SliceOf(rapid.IntRange(0, 10000)).Draw(t, "offsets")
		in := make([]Sample, len(offsets))
		for i, off := range offsets {
			in[i] = Sample{Timestamp: baseTime.Add(time.Duration(off) * time.Millisecond), Value: float64(i)}
		}

		b := NewBuffer(0)
		b.Replace(in)
		got := b.Samples()
		if len(got) != len(in) {
			t.Fatalf("Len() = %d, want %d", len(got), len(in))
		}
		for i := 1; i < len(got); i++ {
			if got[i].Timestamp.Before(got[i-1].Timestamp) {
				t.Fatalf("series not ascending at %d: %v before %v", i, got[i].Timestamp, got[i-1].Timestamp)
			}
		}
	})
}
