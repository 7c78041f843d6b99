package contacts

import (
	"testing"
	"time"
)

func TestParseBDay(t *testing.T) {
	tests := []struct {
		in      string
		month   time.Month
		day     int
		year    int
		wantErr bool
	}{
		{"19851224", time.December, 24, 1985, false},
		{"1985-12-24", time.December, 24, 1985, false},
		{"--1224", time.December, 24, 0, false},
		{"--12-24", time.December, 24, 0, false},
		{"next tuesday", 0, 0, 0, true},
		{"", 0, 0, 0, true},
	}
	for _, tt := range tests {
		got, err := parseBDay(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseBDay(%q) err = %v", tt.in, err)
			continue
		}
		if err != nil {
			continue
		}
		if got.Month != tt.month || got.Day != tt.day || got.Year != tt.year {
			t.Errorf("parseBDay(%q) = %+v", tt.in, got)
		}
	}
}
