// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package feed

import (
	"math"
	"testing"
)

func TestSummarize(t *testing.T) {
	samples := []Sample{
		{Timestamp: baseTime.Add(3e9), Value: 4},
		{Timestamp: baseTime, Value: 2},
		{Timestamp: baseTime.Add(1e9), Value: 4},
		{Timestamp: baseTime.Add(2e9), Value: 4},
		{Timestamp: baseTime.Add(4e9), Value: 5},
		{Timestamp: baseTime.Add(5e9), Value: 5},
		{Timestamp: baseTime.Add(6e9), Value: 7},
		{Timestamp: baseTime.Add(7e9), Value: 9},
	}

	st := Summarize(samples)

	if st.Count != 8 {
		t.Errorf("Count = %d, want 8", st.Count)
	}
	if st.Min != 2 || st.Max != 9 {
		t.Errorf("Min/Max = %v/%v, want 2/9", st.Min, st.Max)
	}
	if st.Mean != 5 {
		t.Errorf("Mean = %v, want 5", st.Mean)
	}
	if math.Abs(st.StdDev-2) > 1e-9 {
		t.Errorf("StdDev = %v, want 2", st.StdDev)
	}
	if !st.First.Equal(baseTime) || !st.Last.Equal(baseTime.Add(7e9)) {
		t.Errorf("First/Last = %v/%v", st.First, st.Last)
	}
}

func TestSummarize_Empty(t *testing.T) {
	if st := Summarize(nil); st != (Stats{}) {
		t.Errorf("Summarize(nil) = %+v, want zero", st)
	}
}

func TestSummarize_Single(t *testing.T) {
	st := Summarize([]Sample{sampleAt(3)})
	if st.Count != 1 || st.Min != 3 || st.Max != 3 || st.Mean != 3 || st.StdDev != 0 {
		t.Errorf("Summarize(single) = %+v", st)
	}
}
