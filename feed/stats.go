// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package feed

import (
	"math"
	"time"
)

// Stats summarises a series.
type Stats struct {
	Count  int       `json:"count"`
	Min    float64   `json:"min"`
	Max    float64   `json:"max"`
	Mean   float64   `json:"mean"`
	StdDev float64   `json:"std_dev"` // population standard deviation
	First  time.Time `json:"first,omitzero"`
	Last   time.Time `json:"last,omitzero"`
}

// Summarize computes Stats over samples. An empty series yields the zero value.
func Summarize(samples []Sample) Stats {
	if len(samples) == 0 {
		return Stats{}
	}

	st := Stats{
		Count: len(samples),
		Min:   samples[0].Value,
		Max:   samples[0].Value,
		First: samples[0].Timestamp,
		Last:  samples[0].Timestamp,
	}

	var sum float64
	for _, s := range samples {
		sum += s.Value
		st.Min = math.Min(st.Min, s.Value)
		st.Max = math.Max(st.Max, s.Value)
		if s.Timestamp.Before(st.First) {
			st.First = s.Timestamp
		}
		if s.Timestamp.After(st.Last) {
			st.Last = s.Timestamp
		}
	}
	st.Mean = sum / float64(len(samples))

	var sq float64
	for _, s := range samples {
		d := s.Value - st.Mean
		sq += d * d
	}
	st.StdDev = math.Sqrt(sq / float64(len(samples)))

	return st
}
