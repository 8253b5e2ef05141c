// Package presence chooses the best outbound number to present for a given
// destination: an exact area-code match first, then the geographically
// closest number within a radius, then the pool's primary number. Selection
// is a pure function of its inputs.
package presence

import "strings"

// DefaultRadiusMiles is the proximity-match cutoff when none is configured.
const DefaultRadiusMiles = 100.0

// PhoneNumber is one candidate outbound number from a caller-owned pool.
// The pool is an immutable snapshot supplied per selection request.
type PhoneNumber struct {
	Number   string
	AreaCode string // derived from Number when empty
	Primary  bool
	Active   bool
}

// Selection is the chosen outbound number and why it was chosen.
type Selection struct {
	PhoneNumber      string
	AreaCode         string
	LocalMatch       bool
	ProximityMatch   bool
	DistanceMiles    float64 // set only on a proximity match
	IsPrimary        bool
	CustomerAreaCode string
}

// DistanceFunc returns the distance in miles between two area codes. The
// second result is false when either code is unknown.
type DistanceFunc func(fromAreaCode, toAreaCode string) (float64, bool)

// Selector picks outbound numbers. The zero Radius falls back to
// DefaultRadiusMiles; a nil Distance disables proximity matching.
type Selector struct {
	RadiusMiles float64
	Distance    DistanceFunc
}

// NewSelector returns a selector using the built-in area-code centroid
// table for proximity matching.
func NewSelector(radiusMiles float64) *Selector {
	if radiusMiles <= 0 {
		radiusMiles = DefaultRadiusMiles
	}
	return &Selector{RadiusMiles: radiusMiles, Distance: AreaCodeDistance}
}

// SelectNumber picks the best outbound number for the destination.
// Priority: exact area-code match, then closest number within the radius,
// then the pool primary. It returns nil when no active number exists.
func (s *Selector) SelectNumber(pool []PhoneNumber, destination string) *Selection {
	customerAC := AreaCode(destination)

	type candidate struct {
		PhoneNumber
		areaCode string
	}
	var candidates []candidate
	for _, n := range pool {
		if !n.Active {
			continue
		}
		ac := n.AreaCode
		if ac == "" {
			ac = AreaCode(n.Number)
		}
		candidates = append(candidates, candidate{PhoneNumber: n, areaCode: ac})
	}
	if len(candidates) == 0 {
		return nil
	}

	if customerAC != "" {
		for _, c := range candidates {
			if c.areaCode == customerAC {
				return &Selection{
					PhoneNumber:      c.Number,
					AreaCode:         c.areaCode,
					LocalMatch:       true,
					IsPrimary:        c.Primary,
					CustomerAreaCode: customerAC,
				}
			}
		}
	}

	radius := s.RadiusMiles
	if radius <= 0 {
		radius = DefaultRadiusMiles
	}
	if s.Distance != nil && customerAC != "" {
		bestIdx := -1
		bestMiles := 0.0
		for i, c := range candidates {
			miles, ok := s.Distance(c.areaCode, customerAC)
			if !ok || miles > radius {
				continue
			}
			if bestIdx == -1 || miles < bestMiles {
				bestIdx = i
				bestMiles = miles
			}
		}
		if bestIdx >= 0 {
			c := candidates[bestIdx]
			return &Selection{
				PhoneNumber:      c.Number,
				AreaCode:         c.areaCode,
				ProximityMatch:   true,
				DistanceMiles:    bestMiles,
				IsPrimary:        c.Primary,
				CustomerAreaCode: customerAC,
			}
		}
	}

	for _, c := range candidates {
		if c.Primary {
			return &Selection{
				PhoneNumber:      c.Number,
				AreaCode:         c.areaCode,
				IsPrimary:        true,
				CustomerAreaCode: customerAC,
			}
		}
	}

	// No designated primary: fall back to the first active number rather
	// than refusing a dialable pool.
	c := candidates[0]
	return &Selection{
		PhoneNumber:      c.Number,
		AreaCode:         c.areaCode,
		CustomerAreaCode: customerAC,
	}
}

// AreaCode extracts the 3-digit NANP area code from a phone number,
// stripping formatting and a leading country-code 1 on 11-digit numbers.
// It returns "" when the number is too short to carry one.
func AreaCode(number string) string {
	var digits strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) == 11 && d[0] == '1' {
		d = d[1:]
	}
	if len(d) < 10 {
		return ""
	}
	return d[:3]
}
