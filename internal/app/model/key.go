package model

import (
	"fmt"
	"strings"
)

// Counter and snapshot keys encode subject root, frequency and period
// into a single composite identifier:
//
//	<subjectRoot>|<frequency>|<periodToken>
//
// Two increments for the same subject, frequency and period always
// address the same row, which makes the key the idempotency unit of
// the whole pipeline.
const keySeparator = "|"

// BuildKey composes the composite key for a subject in a period.
func BuildKey(subjectRoot string, p Period) string {
	return subjectRoot + keySeparator + string(p.Frequency) + keySeparator + p.Token()
}

// ParseFrequency recovers the frequency segment of a composite key.
func ParseFrequency(key string) (Frequency, error) {
	parts := strings.Split(key, keySeparator)
	if len(parts) < 3 {
		return "", fmt.Errorf("%w: malformed key %q", ErrInvalidFrequency, key)
	}
	return ParseFrequencyValue(parts[len(parts)-2])
}

// KeyRoot recovers the subject root of a composite key. The last two
// segments are always frequency and period; everything before them is
// the root.
func KeyRoot(key string) string {
	parts := strings.Split(key, keySeparator)
	if len(parts) < 3 {
		return key
	}
	return strings.Join(parts[:len(parts)-2], keySeparator)
}
