package engine

import (
	"strings"
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, ""},
		{400 * time.Millisecond, "0:00"},
		{500 * time.Millisecond, "0:01"},
		{59*time.Second + 600*time.Millisecond, "1:00"},
		{7 * time.Minute, "7:00"},
		{3*time.Minute + 5*time.Second, "3:05"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatRemaining(t *testing.T) {
	if got := FormatRemaining(65 * time.Second); got != "-1:05" {
		t.Errorf("got %q, want -1:05", got)
	}
	if got := FormatRemaining(0); got != "-0:00" {
		t.Errorf("got %q, want -0:00", got)
	}
}

func TestTitle(t *testing.T) {
	if got := Title("", false); got != "Clips" {
		t.Errorf("Title empty = %q", got)
	}
	if got := Title("/sets/show.clips", true); got != "show.clips* - Clips" {
		t.Errorf("Title dirty = %q", got)
	}
}

func TestTrimPath(t *testing.T) {
	short := "/a/b.clips"
	if got := TrimPath(short, RecentDisplayLength); got != short {
		t.Errorf("short path changed: %q", got)
	}

	long := "/" + strings.Repeat("x", 60) + "/show.clips"
	got := TrimPath(long, RecentDisplayLength)
	if !strings.HasPrefix(got, "…") || !strings.HasSuffix(got, "/show.clips") {
		t.Errorf("TrimPath = %q", got)
	}
	if n := len([]rune(got)); n != RecentDisplayLength+1 {
		t.Errorf("rune length = %d, want %d", n, RecentDisplayLength+1)
	}
}

func TestStatusWhilePlaying(t *testing.T) {
	dec := &fakeDecoder{dur: 5 * time.Second}
	r := newRigWith(t, dec, nil)
	r.load(t, 6)
	r.e.Play(6)
	r.expect(t, started(6))

	st := r.status(t)
	if st.PlayingSlot != 6 || !st.Slots[6].Playing {
		t.Fatalf("PlayingSlot = %d", st.PlayingSlot)
	}
	if !st.Warning {
		t.Error("5s clip should be inside the warning window")
	}
	if st.Remaining > 5*time.Second || st.Ratio < 0 || st.Ratio > 1 {
		t.Errorf("remaining=%v ratio=%v", st.Remaining, st.Ratio)
	}
	if !strings.HasPrefix(st.RemainingText, "-0:0") {
		t.Errorf("RemainingText = %q", st.RemainingText)
	}
}

func TestStatusIdle(t *testing.T) {
	r := newRig(t)
	st := r.status(t)
	if st.State != "idle" || st.PlayingSlot != -1 || st.RemainingText != "" || st.Warning {
		t.Errorf("idle status = %+v", st)
	}
	if len(st.Slots) != 8 {
		t.Errorf("len(Slots) = %d, want 8", len(st.Slots))
	}
}
