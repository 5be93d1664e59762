// Package chart converts bucketed run counts into line-series geometry.
//
// The output is plain coordinate data sized for an SVG viewport; rendering
// is left to the consumer.
package chart

import (
	"math"

	"github.com/adtrail/adtrail/internal/history"
)

// Default viewport used by [BuildSeries] callers that have no layout of
// their own.
const (
	DefaultWidth   = 900
	DefaultHeight  = 140
	DefaultPadding = 10
)

// Point is one polyline vertex.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Dot is a labelled marker placed on a [Point].
type Dot struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Label string  `json:"label"`
	Count int     `json:"count"`
}

// Series is the geometry for one bucketed-count line chart.
type Series struct {
	Points     []Point `json:"points"`
	Dots       []Dot   `json:"dots"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	StartLabel string  `json:"start_label"`
	EndLabel   string  `json:"end_label"`
	MaxValue   int     `json:"max_value"`
}

// BuildSeries lays buckets out left to right across the drawable area,
// scaling Y so the largest count sits at the top padding edge. Coordinates
// are rounded to two decimals. An empty input yields an empty series with
// the requested viewport and a zero MaxValue.
func BuildSeries(buckets []history.Bucket, width, height, padding int) Series {
	s := Series{
		Points: []Point{},
		Dots:   []Dot{},
		Width:  width,
		Height: height,
	}
	if len(buckets) == 0 {
		return s
	}

	maxValue := 0
	for _, b := range buckets {
		if b.Count > maxValue {
			maxValue = b.Count
		}
	}
	s.MaxValue = maxValue

	// scale divisor: a flat zero series still needs a finite Y
	scaleMax := maxValue
	if scaleMax < 1 {
		scaleMax = 1
	}

	spanX := float64(width - 2*padding)
	spanY := float64(height - 2*padding)
	denom := len(buckets) - 1
	if denom < 1 {
		denom = 1
	}

	for i, b := range buckets {
		x := round2(float64(padding) + spanX*float64(i)/float64(denom))
		y := round2(float64(padding) + spanY*(1-float64(b.Count)/float64(scaleMax)))
		s.Points = append(s.Points, Point{X: x, Y: y})
		s.Dots = append(s.Dots, Dot{X: x, Y: y, Label: b.Label, Count: b.Count})
	}

	s.StartLabel = buckets[0].Label
	s.EndLabel = buckets[len(buckets)-1].Label
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
