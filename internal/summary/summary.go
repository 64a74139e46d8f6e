// Package summary derives statistics from a recorded report: label counts,
// percentages, the dominant label and a per-minute timeline. It holds no
// state; Summarize is a pure function of its input.
package summary

import (
	"math"
	"sort"
	"time"

	"moodcam/internal/emotion"
	"moodcam/internal/report"
)

// Summary is the derived view of a report.
type Summary struct {
	TotalSamples int                `json:"total_samples"`
	Counts       map[string]int     `json:"counts"`
	Percentages  map[string]float64 `json:"percentages"`
	TopEmotion   string             `json:"top_emotion"`
	Timeline     []Bucket           `json:"timeline"`
	// Labels lists the observed labels in first-seen order.
	Labels []string `json:"labels"`
	// Unplaced counts samples whose timestamp could not be parsed.
	Unplaced int `json:"unplaced"`
}

// Bucket holds the label counts of one minute, relative to the first sample.
type Bucket struct {
	Minute int            `json:"minute"`
	Counts map[string]int `json:"counts"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05Z07:00",
}

// ParseTimestamp parses sample timestamps in RFC 3339 or naive ISO 8601
// form. Naive times are taken as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Summarize computes the summary of r.
func Summarize(r report.Report) Summary {
	return SummarizeSamples(r.Data)
}

// SummarizeSamples computes the summary of an ordered sample sequence.
func SummarizeSamples(data []report.Sample) Summary {
	s := Summary{
		Counts:      map[string]int{},
		Percentages: map[string]float64{},
		TopEmotion:  emotion.LabelNone,
		Timeline:    []Bucket{},
		Labels:      []string{},
	}

	for _, sample := range data {
		if _, seen := s.Counts[sample.Label]; !seen {
			s.Labels = append(s.Labels, sample.Label)
		}
		s.Counts[sample.Label]++
	}

	s.TotalSamples = len(data)
	if s.TotalSamples == 0 {
		return s
	}

	top, topCount := "", -1
	for _, label := range s.Labels {
		c := s.Counts[label]
		s.Percentages[label] = float64(c) / float64(s.TotalSamples) * 100.0
		// strict > keeps the earliest label on ties
		if c > topCount {
			top, topCount = label, c
		}
	}
	s.TopEmotion = top

	s.Timeline, s.Unplaced = timeline(data)
	return s
}

func timeline(data []report.Sample) ([]Bucket, int) {
	type placed struct {
		at    time.Time
		label string
	}
	points := make([]placed, 0, len(data))
	unplaced := 0
	var t0 time.Time
	for _, sample := range data {
		at, ok := ParseTimestamp(sample.Timestamp)
		if !ok {
			unplaced++
			continue
		}
		if len(points) == 0 || at.Before(t0) {
			t0 = at
		}
		points = append(points, placed{at: at, label: sample.Label})
	}

	buckets := map[int]map[string]int{}
	for _, p := range points {
		minute := int(math.Floor(p.at.Sub(t0).Minutes()))
		if buckets[minute] == nil {
			buckets[minute] = map[string]int{}
		}
		buckets[minute][p.label]++
	}

	out := make([]Bucket, 0, len(buckets))
	for minute, counts := range buckets {
		out = append(out, Bucket{Minute: minute, Counts: counts})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Minute < out[j].Minute })
	return out, unplaced
}
