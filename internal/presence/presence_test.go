package presence

import (
	"testing"
)

func TestAreaCode(t *testing.T) {
	tests := []struct {
		name   string
		number string
		want   string
	}{
		{"e164", "+12125551234", "212"},
		{"eleven digits with country code", "12125551234", "212"},
		{"ten digits", "2125551234", "212"},
		{"formatted", "(212) 555-1234", "212"},
		{"formatted with country code", "+1 415-555-0100", "415"},
		{"seven digits", "5551234", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AreaCode(tt.number); got != tt.want {
				t.Errorf("AreaCode(%q) = %q, want %q", tt.number, got, tt.want)
			}
		})
	}
}

func TestSelectNumberLocalMatch(t *testing.T) {
	s := NewSelector(0)
	pool := []PhoneNumber{
		{Number: "+12125550199", AreaCode: "212", Primary: true, Active: true},
	}

	sel := s.SelectNumber(pool, "+12125551234")
	if sel == nil {
		t.Fatal("selection is nil, want a local match")
	}
	if !sel.LocalMatch {
		t.Error("LocalMatch = false, want true")
	}
	if sel.ProximityMatch {
		t.Error("ProximityMatch = true on an exact match")
	}
	if sel.PhoneNumber != "+12125550199" {
		t.Errorf("PhoneNumber = %q, want +12125550199", sel.PhoneNumber)
	}
	if sel.CustomerAreaCode != "212" {
		t.Errorf("CustomerAreaCode = %q, want 212", sel.CustomerAreaCode)
	}
}

func TestSelectNumberPriorityOrder(t *testing.T) {
	s := NewSelector(0)

	exact := PhoneNumber{Number: "+12125550100", Active: true}
	nearby := PhoneNumber{Number: "+19145550100", Active: true}
	primary := PhoneNumber{Number: "+14155550100", Primary: true, Active: true}
	dest := "+12125551234"

	t.Run("exact match outranks proximity and primary", func(t *testing.T) {
		sel := s.SelectNumber([]PhoneNumber{primary, nearby, exact}, dest)
		if sel == nil || sel.PhoneNumber != exact.Number {
			t.Fatalf("selected %+v, want exact match %s", sel, exact.Number)
		}
		if !sel.LocalMatch {
			t.Error("LocalMatch = false, want true")
		}
	})

	t.Run("proximity outranks primary", func(t *testing.T) {
		sel := s.SelectNumber([]PhoneNumber{primary, nearby}, dest)
		if sel == nil || sel.PhoneNumber != nearby.Number {
			t.Fatalf("selected %+v, want nearby %s", sel, nearby.Number)
		}
		if !sel.ProximityMatch {
			t.Error("ProximityMatch = false, want true")
		}
		if sel.DistanceMiles <= 0 || sel.DistanceMiles > 100 {
			t.Errorf("DistanceMiles = %v, want within (0, 100]", sel.DistanceMiles)
		}
	})

	t.Run("primary is the fallback", func(t *testing.T) {
		sel := s.SelectNumber([]PhoneNumber{primary}, dest)
		if sel == nil || sel.PhoneNumber != primary.Number {
			t.Fatalf("selected %+v, want primary %s", sel, primary.Number)
		}
		if !sel.IsPrimary {
			t.Error("IsPrimary = false, want true")
		}
		if sel.LocalMatch || sel.ProximityMatch {
			t.Errorf("fallback selection carries match flags: %+v", sel)
		}
	})
}

func TestSelectNumberDeterministic(t *testing.T) {
	s := NewSelector(0)
	pool := []PhoneNumber{
		{Number: "+14155550100", Primary: true, Active: true},
		{Number: "+19145550100", Active: true},
		{Number: "+16465550100", Active: true},
	}

	first := s.SelectNumber(pool, "+12125551234")
	for i := 0; i < 5; i++ {
		again := s.SelectNumber(pool, "+12125551234")
		if first == nil || again == nil || *first != *again {
			t.Fatalf("selection changed between calls: %+v vs %+v", first, again)
		}
	}
}

func TestSelectNumberRadiusBoundary(t *testing.T) {
	dist := func(miles float64) DistanceFunc {
		return func(from, to string) (float64, bool) { return miles, true }
	}
	pool := []PhoneNumber{
		{Number: "+16085550100", Active: true},
		{Number: "+14155550199", Primary: true, Active: true, AreaCode: "415"},
	}
	// Give both numbers the same synthetic distance; the first in pool
	// order wins a proximity tie.
	tests := []struct {
		name      string
		miles     float64
		wantProx  bool
		wantPhone string
	}{
		{"inside radius", 99.9, true, "+16085550100"},
		{"exactly at radius", 100, true, "+16085550100"},
		{"outside radius", 100.1, false, "+14155550199"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Selector{RadiusMiles: 100, Distance: dist(tt.miles)}
			sel := s.SelectNumber(pool, "+12125551234")
			if sel == nil {
				t.Fatal("selection is nil")
			}
			if sel.ProximityMatch != tt.wantProx {
				t.Errorf("ProximityMatch = %v, want %v", sel.ProximityMatch, tt.wantProx)
			}
			if sel.PhoneNumber != tt.wantPhone {
				t.Errorf("PhoneNumber = %q, want %q", sel.PhoneNumber, tt.wantPhone)
			}
		})
	}
}

func TestSelectNumberEmptyAndInactivePools(t *testing.T) {
	s := NewSelector(0)

	if sel := s.SelectNumber(nil, "+12125551234"); sel != nil {
		t.Errorf("empty pool selected %+v, want nil", sel)
	}

	pool := []PhoneNumber{{Number: "+12125550100", Primary: true, Active: false}}
	if sel := s.SelectNumber(pool, "+12125551234"); sel != nil {
		t.Errorf("inactive pool selected %+v, want nil", sel)
	}
}

func TestSelectNumberNoPrimaryFallsBackToFirstActive(t *testing.T) {
	s := NewSelector(0)
	pool := []PhoneNumber{
		{Number: "+14155550100", Active: true},
		{Number: "+15035550100", Active: true},
	}

	sel := s.SelectNumber(pool, "+12125551234")
	if sel == nil || sel.PhoneNumber != "+14155550100" {
		t.Fatalf("selected %+v, want first active number", sel)
	}
	if sel.LocalMatch || sel.ProximityMatch || sel.IsPrimary {
		t.Errorf("fallback selection carries flags: %+v", sel)
	}
}

func TestAreaCodeDistance(t *testing.T) {
	t.Run("neighboring metros", func(t *testing.T) {
		miles, ok := AreaCodeDistance("914", "212")
		if !ok {
			t.Fatal("distance unknown for 914/212")
		}
		if miles < 10 || miles > 50 {
			t.Errorf("914-212 distance = %v miles, want roughly 25", miles)
		}
	})

	t.Run("coast to coast", func(t *testing.T) {
		miles, ok := AreaCodeDistance("212", "415")
		if !ok {
			t.Fatal("distance unknown for 212/415")
		}
		if miles < 2000 {
			t.Errorf("212-415 distance = %v miles, want transcontinental", miles)
		}
	})

	t.Run("unknown code", func(t *testing.T) {
		if _, ok := AreaCodeDistance("000", "212"); ok {
			t.Error("distance reported for unknown area code")
		}
	})
}
