package domain

import "time"

// Source tells where a position came from
type Source string

const (
	SourceLive      Source = "live"
	SourceSimulated Source = "simulated"
	SourceStored    Source = "stored"
)

// Position is a single located sample of a tracked entity
type Position struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
	EntityID  string    `json:"entityId"`
	Source    Source    `json:"source"`
}

// LatLng returns the coordinate part of the position
func (p Position) LatLng() LatLng {
	return LatLng{Lat: p.Lat, Lng: p.Lng}
}

// LatLng is a bare coordinate pair
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// SegmentSource distinguishes a routed path from the stored samples
type SegmentSource string

const (
	SegmentReconstructed SegmentSource = "reconstructed"
	SegmentRaw           SegmentSource = "raw"
)

// RouteSegment is an ordered path for display
type RouteSegment struct {
	Points []LatLng       `json:"points"`
	Source SegmentSource `json:"source"`
}

// HistoricalRange is an operator-selected time window. Start after End
// is valid input and means there is nothing to show.
type HistoricalRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Inverted reports whether the range selects no time at all
func (r HistoricalRange) Inverted() bool {
	return r.Start.After(r.End)
}

// Sample is a stored position returned by the history backend
type Sample struct {
	Lat       float64   `json:"latitude"`
	Lng       float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// LatLng returns the coordinate part of the sample
func (s Sample) LatLng() LatLng {
	return LatLng{Lat: s.Lat, Lng: s.Lng}
}
