package logstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/czerwonk/ping_tracker/session"
)

// entry is the stored form of one sample. Time and Latency keep the
// historic shape; At carries the full timestamp.
type entry struct {
	Time    string     `json:"time"`
	Latency *int       `json:"latency"`
	At      *time.Time `json:"at,omitempty"`
}

const timeOfDay = "15:04:05"

var legacyTimeLayouts = []string{timeOfDay, "3:04:05 PM", "15.04.05"}

func encode(s *session.Session, loc *time.Location) ([]byte, error) {
	entries := make([]entry, len(s.Samples))
	for i, sample := range s.Samples {
		at := sample.TakenAt
		entries[i] = entry{
			Time:    at.In(loc).Format(timeOfDay),
			Latency: sample.Latency,
			At:      &at,
		}
	}

	return json.Marshal(entries)
}

func decode(key string, b []byte, loc *time.Location) (*session.Session, error) {
	var entries []entry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("cannot decode %s: %w", key, err)
	}

	s := &session.Session{
		ID:      key,
		Samples: make([]session.Sample, len(entries)),
	}
	for i, e := range entries {
		s.Samples[i] = session.Sample{
			TakenAt: takenAt(key, e, loc),
			Latency: e.Latency,
		}
	}

	return s, nil
}

// takenAt rebuilds the sample time. Entries written before At existed only
// carry a local time of day. Samples precede the close, so the sample is
// placed at the latest matching time not after the key time.
func takenAt(key string, e entry, loc *time.Location) time.Time {
	if e.At != nil {
		return *e.At
	}

	closed, err := keyTime(key)
	if err != nil {
		return time.Time{}
	}
	closed = closed.In(loc)

	for _, layout := range legacyTimeLayouts {
		tod, err := time.Parse(layout, e.Time)
		if err != nil {
			continue
		}
		at := time.Date(closed.Year(), closed.Month(), closed.Day(), tod.Hour(), tod.Minute(), tod.Second(), 0, loc)
		if at.After(closed) {
			at = at.AddDate(0, 0, -1)
		}
		return at
	}

	return time.Time{}
}
