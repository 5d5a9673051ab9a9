package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressTracker_Basic(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, "user", 100, 10)

	tracker.Start()
	tracker.Increment(25)
	tracker.Increment(25)
	tracker.Increment(50)

	assert.Greater(t, tracker.Elapsed(), time.Duration(0))
	assert.Contains(t, buf.String(), "user: 100/100 (100.0%)")
}

func TestProgressTracker_NotStarted(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, "user", 100, 10)
	tracker.Increment(50)
	tracker.Finish()
	assert.Empty(t, buf.String())
	assert.Zero(t, tracker.Elapsed())
}

func TestProgressTracker_GrowsTotal(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, "message", 10, 5)

	tracker.Start()
	tracker.Increment(15)
	assert.Contains(t, buf.String(), "15/15")
}

func TestProgressTracker_FinishEarly(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, "session", 100, 50)

	tracker.Start()
	tracker.Increment(30)
	tracker.Finish()

	assert.Contains(t, buf.String(), "30/30 (100.0%)", "rows removed during the export shrink the total")
	assert.Contains(t, buf.String(), "\n")
}

func TestProgressTracker_ZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(&buf, "session", 0, 0)

	tracker.Start()
	tracker.Finish()
	assert.Contains(t, buf.String(), "0/0 (100.0%)")
}
