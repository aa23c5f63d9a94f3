package rshfetch

import "testing"

// Dial/List/Get need a live SSH server to exercise meaningfully; shellQuote
// is the pure part of this package and the one piece worth unit testing in
// isolation.
func TestShellQuoteEscapesSingleQuotes(t *testing.T) {
	cases := map[string]string{
		"plain":       "'plain'",
		"has space":   "'has space'",
		"o'brien.txt": `'o'\''brien.txt'`,
		"":            "''",
		"a'b'c":       `'a'\''b'\''c'`,
	}
	for in, want := range cases {
		if got := shellQuote(in); got != want {
			t.Errorf("shellQuote(%q) = %q, want %q", in, got, want)
		}
	}
}
