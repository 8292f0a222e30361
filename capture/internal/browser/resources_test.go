package browser

import "testing"

func TestShouldBlock(t *testing.T) {
	blocked := map[string]bool{"images": true, "fonts": true, "xhr": true}
	tests := []struct {
		typ  string
		want bool
	}{
		{"Image", true},
		{"Font", true},
		{"Stylesheet", false},
		{"XHR", true},
		{"Document", false},
	}
	for _, tt := range tests {
		if got := ShouldBlock(blocked, tt.typ); got != tt.want {
			t.Errorf("ShouldBlock(%q): got %v, want %v", tt.typ, got, tt.want)
		}
	}
}
