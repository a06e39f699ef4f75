package match

import "testing"

func TestWildcardMatch(t *testing.T) {
	tests := []struct {
		pattern string
		value   string
		want    bool
	}{
		{pattern: "uptime", value: "uptime", want: true},
		{pattern: "uptime", value: "uptime_s", want: false},
		{pattern: "client_*", value: "client_eof", want: true},
		{pattern: "client_*", value: "server_ejects", want: false},
		{pattern: "*_err", value: "client_err", want: true},
		{pattern: "*_err", value: "client_error", want: false},
		{pattern: "*queue*", value: "server1.in_queue_bytes", want: true},
		{pattern: "a*a", value: "a", want: false},
		{pattern: "a*a", value: "aba", want: true},
		{pattern: "s*.req*s", value: "server1.requests", want: true},
		{pattern: "**", value: "anything", want: true},
		{pattern: "  ", value: "", want: false},
	}

	for _, tc := range tests {
		if got := WildcardMatch(tc.pattern, tc.value); got != tc.want {
			t.Fatalf("WildcardMatch(%q, %q) = %v, want %v", tc.pattern, tc.value, got, tc.want)
		}
	}
}

func TestKeySelector(t *testing.T) {
	selector := NewKeySelector([]string{"client_*", "uptime"}, []string{"*_eof", ""})

	cases := map[string]bool{
		"client_connections": true,
		"client_eof":         false,
		"uptime":             true,
		"fragments":          false,
	}
	for name, want := range cases {
		if got := selector.Allow(name); got != want {
			t.Fatalf("Allow(%q) = %v, want %v", name, got, want)
		}
	}

	var zero KeySelector
	if !zero.Allow("fragments") {
		t.Fatalf("zero selector must allow every key")
	}
}
