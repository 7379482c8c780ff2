package logstore

import (
	"fmt"
	"regexp"
	"time"
)

const (
	keyPrefix = "log-"
	keyLayout = "2006-01-02T15-04-05"
	fileExt   = ".json"
)

var keyPattern = regexp.MustCompile(`^log-\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}(-\d{3,})?$`)

// Key returns the identity of a session closed at t: the UTC ISO 8601 time
// with ":" replaced by "-" and the fraction and zone dropped.
func Key(t time.Time) string {
	return keyPrefix + t.UTC().Format(keyLayout)
}

// ValidKey reports whether key follows the identity format.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// disambiguate appends n to key. Counters below 1000 keep three digits so
// keys closed in the same second sort in closing order.
func disambiguate(key string, n int) string {
	return fmt.Sprintf("%s-%03d", key, n)
}

// keyTime returns the UTC closing time encoded in key.
func keyTime(key string) (time.Time, error) {
	if len(key) < len(keyPrefix)+len(keyLayout) {
		return time.Time{}, fmt.Errorf("invalid key %q", key)
	}
	return time.Parse(keyLayout, key[len(keyPrefix):len(keyPrefix)+len(keyLayout)])
}
