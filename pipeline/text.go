package pipeline

import "strings"

// filterPrintable keeps printable ASCII, spaces and newlines, dropping every
// byte above 0x7F and every control byte except newline. Recognition output
// on noisy scans tends to include stray multi-byte runes and control bytes;
// downstream consumers expect plain ASCII. The filter is idempotent.
func filterPrintable(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c > 127 || (c < 32 && c != '\n') {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// cleanText removes carriage returns and tabs, then trims leading and
// trailing spaces and newlines. Interior newlines survive, preserving the
// line structure of multi-line text.
func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\t", "")
	return strings.Trim(s, " \n")
}
