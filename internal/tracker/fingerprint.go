package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
)

// UnknownFingerprint buckets events that cannot be fingerprinted.
const UnknownFingerprint = "unknown"

var digitRun = regexp.MustCompile(`\d+`)

// NormalizeMessage collapses every run of digits to "N" so that messages
// differing only in ids, counts or ports share a fingerprint.
func NormalizeMessage(message string) string {
	return digitRun.ReplaceAllString(message, "N")
}

// Fingerprint hashes name, normalized message and location into a stable
// 16 character key. It never panics; failures and empty input map to
// UnknownFingerprint.
func Fingerprint(in ErrorInput) (fp string) {
	defer func() {
		if r := recover(); r != nil {
			fp = UnknownFingerprint
		}
	}()

	var parts []string
	for _, p := range []string{in.Name, NormalizeMessage(in.Message), in.File} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if in.Line > 0 {
		parts = append(parts, strconv.Itoa(in.Line))
	}
	if len(parts) == 0 {
		return UnknownFingerprint
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:16]
}
