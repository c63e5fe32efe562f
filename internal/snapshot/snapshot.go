// Package snapshot models the node's static channel backup and the name of
// the artifact it is stored under.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// TimestampFormat is the Go layout embedded in artifact names (always UTC).
const TimestampFormat = "2006-01-02-15-04-05"

// Snapshot is the static backup as returned by the node: one hex encoded
// record per channel.
type Snapshot struct {
	SCB []string `json:"scb"`
}

// Units is the number of channel records.
func (s Snapshot) Units() int { return len(s.SCB) }

// Capturer obtains the current static backup from the node.
type Capturer interface {
	Capture(ctx context.Context) (Snapshot, error)
}

// CaptureFunc adapts a function to Capturer.
type CaptureFunc func(ctx context.Context) (Snapshot, error)

func (f CaptureFunc) Capture(ctx context.Context) (Snapshot, error) { return f(ctx) }

// Encode serializes s as compact JSON. A nil record list encodes as [].
func Encode(s Snapshot) ([]byte, error) {
	if s.SCB == nil {
		s.SCB = []string{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

// Decode is the inverse of Encode.
func Decode(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

// ArtifactName returns scb-<UTC timestamp>.json, followed by .<suffix>
// when suffix is not empty.
func ArtifactName(t time.Time, suffix string) string {
	name := "scb-" + t.UTC().Format(TimestampFormat) + ".json"
	if suffix != "" {
		name += "." + suffix
	}
	return name
}
