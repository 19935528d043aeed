package geo

import (
	"math"
	"testing"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name string
		p1   Point
		p2   Point
		want float64
	}{
		{
			name: "Same Point",
			p1:   Point{Lat: 0, Lon: 0},
			p2:   Point{Lat: 0, Lon: 0},
			want: 0,
		},
		{
			name: "London to Paris",
			p1:   Point{Lat: 51.5074, Lon: -0.1278},
			p2:   Point{Lat: 48.8566, Lon: 2.3522},
			want: 344000, // Approx 344km
		},
		{
			name: "Equator 1 degree",
			p1:   Point{Lat: 0, Lon: 0},
			p2:   Point{Lat: 0, Lon: 1},
			want: 111319, // Approx 111km
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.p1, tt.p2)
			// Allow 1% margin of error due to float precision/earth radius var
			margin := tt.want * 0.01
			if tt.want == 0 {
				margin = 1e-6
			}
			if math.Abs(got-tt.want) > margin {
				t.Errorf("Distance() = %v, want %v (+/- %v)", got, tt.want, margin)
			}
		})
	}
}

func TestBearing(t *testing.T) {
	tests := []struct {
		name string
		p2   Point
		want float64
	}{
		{"North", Point{Lat: 1, Lon: 0}, 0},
		{"East", Point{Lat: 0, Lon: 1}, 90},
		{"South", Point{Lat: -1, Lon: 0}, 180},
		{"West", Point{Lat: 0, Lon: -1}, 270},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Bearing(Point{}, tt.p2)
			if math.Abs(got-tt.want) > 0.01 {
				t.Errorf("Bearing() = %v, want %v", got, tt.want)
			}
			if got < 0 || got >= 360 {
				t.Errorf("Bearing() = %v out of [0,360)", got)
			}
		})
	}
}

func TestLerpHeading(t *testing.T) {
	tests := []struct {
		name   string
		h0, h1 float64
		k      float64
		want   float64
	}{
		{"Plain", 10, 30, 0.5, 20},
		{"Wrap Forward", 350, 10, 0.5, 0},
		{"Wrap Backward", 10, 350, 0.5, 0},
		{"Wrap Quarter", 350, 10, 0.25, 355},
		{"Start", 270, 90, 0, 270},
		{"Half Turn", 0, 180, 1, 180},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LerpHeading(tt.h0, tt.h1, tt.k)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("LerpHeading(%v, %v, %v) = %v, want %v", tt.h0, tt.h1, tt.k, got, tt.want)
			}
		})
	}
}

func TestLerpHeading_StepNeverExceedsHalfTurn(t *testing.T) {
	for h0 := 0.0; h0 < 360; h0 += 7.5 {
		for h1 := 0.0; h1 < 360; h1 += 11.25 {
			for _, k := range []float64{0, 0.1, 0.5, 0.9, 1} {
				got := LerpHeading(h0, h1, k)
				if got < 0 || got >= 360 {
					t.Fatalf("LerpHeading(%v, %v, %v) = %v out of range", h0, h1, k, got)
				}
				if d := math.Abs(NormalizeAngle(got - h0)); d > 180 {
					t.Fatalf("LerpHeading(%v, %v, %v) jumped %v degrees", h0, h1, k, d)
				}
			}
		}
	}
}

func TestLerpHeading_NaN(t *testing.T) {
	if got := LerpHeading(math.NaN(), 10, 0.5); !math.IsNaN(got) {
		t.Errorf("expected NaN, got %v", got)
	}
}
