package engine

import (
	"fmt"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/satindergrewal/clipdeck/internal/audio"
	"github.com/satindergrewal/clipdeck/internal/device"
)

// WarningThreshold is the remaining time at which a playing clip is flagged.
const WarningThreshold = 10 * time.Second

// RecentDisplayLength bounds a recently used path shown to the user.
const RecentDisplayLength = 50

// SlotStatus describes one slot.
type SlotStatus struct {
	Index        int           `json:"index"`
	Loaded       bool          `json:"loaded"`
	Path         string        `json:"path,omitempty"`
	Name         string        `json:"name,omitempty"`
	Duration     time.Duration `json:"duration"`
	DurationText string        `json:"durationText"`
	Playing      bool          `json:"playing"`
}

// Status is a point-in-time view of the engine.
type Status struct {
	Slots    []SlotStatus `json:"slots"`
	Filename string       `json:"filename"`
	Dirty    bool         `json:"dirty"`
	Title    string       `json:"title"`

	State         string        `json:"state"`
	PlayingSlot   int           `json:"playingSlot"`
	Position      time.Duration `json:"position"`
	Remaining     time.Duration `json:"remaining"`
	RemainingText string        `json:"remainingText,omitempty"`
	Ratio         float64       `json:"ratio"`
	Warning       bool          `json:"warning"`

	Output device.Config `json:"output"`
}

// Snapshot returns the current status.
func (e *Engine) Snapshot() (Status, error) {
	var st Status
	err := e.do(func() error {
		st = e.status()
		return nil
	})
	return st, err
}

func (e *Engine) status() Status {
	st := Status{
		Slots:       make([]SlotStatus, audio.NumSlots),
		Filename:    e.filename,
		Dirty:       e.dirty,
		Title:       Title(e.filename, e.dirty),
		State:       e.state.String(),
		PlayingSlot: -1,
	}
	if e.out != nil {
		st.Output = e.out.Config()
	}
	for i, c := range e.slots {
		s := SlotStatus{Index: i}
		if c != nil {
			s.Loaded = true
			s.Path = c.Path
			s.Name = filepath.Base(c.Path)
			s.Duration = c.Duration
			s.DurationText = FormatDuration(c.Duration)
		}
		st.Slots[i] = s
	}

	if e.sess != nil {
		i := e.sess.slot
		st.PlayingSlot = i
		st.Slots[i].Playing = true

		dur := e.sess.clip.Duration
		pos := min(e.sess.position(), dur)
		rest := (dur - pos).Round(time.Second)
		st.Position = pos
		st.Remaining = rest
		st.RemainingText = FormatRemaining(rest)
		st.Warning = rest <= WarningThreshold
		if dur > 0 {
			st.Ratio = float64(pos) / float64(dur)
		}
	}
	return st
}

// FormatDuration renders d as m:ss, rounded to the second. Zero renders
// empty.
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return minSec(d)
}

// FormatRemaining renders d as -m:ss, rounded to the second.
func FormatRemaining(d time.Duration) string {
	return "-" + minSec(d)
}

func minSec(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	secs := int64(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// Title is the window title for a list file.
func Title(filename string, dirty bool) string {
	if filename == "" {
		return "Clips"
	}
	mark := ""
	if dirty {
		mark = "*"
	}
	return fmt.Sprintf("%s%s - Clips", filepath.Base(filename), mark)
}

// TrimPath keeps the last limit characters of p, marking a cut with a
// leading ellipsis.
func TrimPath(p string, limit int) string {
	n := utf8.RuneCountInString(p)
	if limit <= 0 || n <= limit {
		return p
	}
	r := []rune(p)
	return "…" + string(r[n-limit:])
}
