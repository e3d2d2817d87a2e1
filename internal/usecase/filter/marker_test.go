package filter

import "testing"

func TestMarkerMatch(t *testing.T) {
	tests := []struct {
		name   string
		marker string
		text   string
		want   bool
	}{
		{name: "default marker", text: "nice ⚡ cast", want: true},
		{name: "empty text", text: "", want: false},
		{name: "variation selector kept", text: "⚡️", want: true},
		{name: "absent", text: "nice cast", want: false},
		{name: "decomposed custom marker", marker: "e\u0301", text: "caf\u00e9", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewMarker(tt.marker).Match(tt.text); got != tt.want {
				t.Fatalf("Match(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}
