package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionLabel(t *testing.T) {
	loc := LoadReferenceLocation(DefaultReferenceZone)

	want := map[int]string{}
	for h := 0; h < 24; h++ {
		switch {
		case h >= 18 || h < 3:
			want[h] = SessionAsia
		case h < 8:
			want[h] = SessionLondon
		case h < 12:
			want[h] = SessionNYAM
		case h < 14:
			want[h] = SessionNYLunch
		default:
			want[h] = SessionNYPM
		}
	}

	for h := 0; h < 24; h++ {
		at := time.Date(2024, 1, 15, h, 30, 0, 0, loc)
		assert.Equal(t, want[h], SessionLabel(at, loc), "hour %d", h)
	}

	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"london opens at 03:00", time.Date(2024, 1, 15, 3, 0, 0, 0, loc), SessionLondon},
		{"asia until 02:59", time.Date(2024, 1, 15, 2, 59, 59, 0, loc), SessionAsia},
		{"lunch at noon", time.Date(2024, 1, 15, 12, 0, 0, 0, loc), SessionNYLunch},
		{"pm until 17:59", time.Date(2024, 1, 15, 17, 59, 0, 0, loc), SessionNYPM},
		{"utc input converted", time.Date(2024, 1, 15, 19, 0, 0, 0, time.UTC), SessionNYPM},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SessionLabel(tt.at, loc))
		})
	}
}

func TestDedupeKey(t *testing.T) {
	loc := LoadReferenceLocation(DefaultReferenceZone)

	tests := []struct {
		name      string
		symbol    string
		direction string
		zone      string
		at        time.Time
		want      string
	}{
		{
			name: "hyphenated zone", symbol: "NQ", direction: "LONG", zone: "21780-21800",
			at: time.Date(2024, 1, 1, 14, 0, 0, 0, loc), want: "NQ_LONG_2178021800_20240101_14",
		},
		{
			name: "same hour later", symbol: "NQ", direction: "LONG", zone: "21780-21800",
			at: time.Date(2024, 1, 1, 14, 45, 0, 0, loc), want: "NQ_LONG_2178021800_20240101_14",
		},
		{
			name: "spaces stripped", symbol: "ES", direction: "SHORT", zone: "4810.25 - 4812.5",
			at: time.Date(2024, 1, 1, 9, 5, 0, 0, loc), want: "ES_SHORT_4810.254812.5_20240101_09",
		},
		{
			name: "hour taken in reference zone", symbol: "NQ", direction: "LONG", zone: "21780-21800",
			at: time.Date(2024, 1, 2, 3, 30, 0, 0, time.UTC), want: "NQ_LONG_2178021800_20240101_22",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DedupeKey(tt.symbol, tt.direction, tt.zone, tt.at, loc))
		})
	}
}

func TestLoadReferenceLocation(t *testing.T) {
	assert.NotNil(t, LoadReferenceLocation(""))
	assert.Equal(t, "EST", LoadReferenceLocation("Not/AZone").String())
}
