package archive

import "golang.org/x/text/unicode/norm"

// normalizeText NFC-normalizes user-facing text (display names, topics,
// filenames) at the storage boundary so equal-looking strings compare
// equal in queries. Raw event payloads are never normalized.
func normalizeText(s string) string {
	if norm.NFC.IsNormalString(s) {
		return s
	}
	return norm.NFC.String(s)
}
