package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"
	"go.uber.org/zap/zaptest"

	"github.com/satindergrewal/clipdeck/internal/audio"
	"github.com/satindergrewal/clipdeck/internal/cliplist"
	"github.com/satindergrewal/clipdeck/internal/config"
)

// writeWAV encodes a short 44.1kHz stereo tone.
func writeWAV(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	tone := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			samples[i] = [2]float64{0.1, -0.1}
		}
		return len(samples), true
	})
	format := beep.Format{SampleRate: audio.TargetSampleRate, NumChannels: 2, Precision: 2}
	if err := wav.Encode(f, beep.Take(audio.TargetSampleRate/10, tone), format); err != nil {
		t.Fatalf("wav.Encode: %v", err)
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("not audio"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFromFileSkipsMissingClip(t *testing.T) {
	dir := t.TempDir()
	writeWAV(t, filepath.Join(dir, "a.wav"))
	list := filepath.Join(dir, "set.clips")
	if err := cliplist.Write(list, map[int]string{
		0: filepath.Join(dir, "a.wav"),
		1: filepath.Join(dir, "missing.wav"),
	}); err != nil {
		t.Fatal(err)
	}

	r := newRigWith(t, audio.NewDecoder("", zaptest.NewLogger(t)), config.NewMemoryStore())
	if err := r.e.LoadFromFile(list); err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	r.expect(t, notice(SlotsChanged), notice(ClipListChanged), notice(RecentlyUsedChanged))

	st := r.status(t)
	if !st.Slots[0].Loaded || st.Slots[0].Name != "a.wav" {
		t.Errorf("slot 0 = %+v, want a.wav", st.Slots[0])
	}
	if st.Slots[1].Loaded {
		t.Error("slot 1 should be empty")
	}
	if st.Dirty {
		t.Error("dirty after load")
	}
	if st.Filename != list {
		t.Errorf("Filename = %q, want %q", st.Filename, list)
	}
	if st.Title != "set.clips - Clips" {
		t.Errorf("Title = %q", st.Title)
	}

	recent, _ := r.e.RecentlyUsed()
	if len(recent) != 1 || recent[0] != list {
		t.Errorf("recent = %v", recent)
	}
	if v, _ := r.store.Get("recentlyUsedPath0"); v != list {
		t.Errorf("stored recent = %q", v)
	}
}

func TestLoadFromFileSkipsOutOfRangeKeys(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "set.clips")
	cliplist.Write(list, map[int]string{2: filepath.Join(dir, "c.wav"), 8: filepath.Join(dir, "i.wav")})

	r := newRig(t)
	if err := r.e.LoadFromFile(list); err != nil {
		t.Fatal(err)
	}
	st := r.status(t)
	n := 0
	for _, s := range st.Slots {
		if s.Loaded {
			n++
		}
	}
	if n != 1 || !st.Slots[2].Loaded {
		t.Errorf("loaded %d slots, want only slot 2", n)
	}
}

func TestLoadFromFileCorrupt(t *testing.T) {
	list := filepath.Join(t.TempDir(), "bad.clips")
	os.WriteFile(list, []byte{1, 2}, 0o644)

	r := newRig(t)
	r.load(t, 0)
	if err := r.e.LoadFromFile(list); !errors.Is(err, cliplist.ErrCorruptFile) {
		t.Fatalf("LoadFromFile = %v, want ErrCorruptFile", err)
	}
	if st := r.status(t); !st.Slots[0].Loaded {
		t.Error("failed load replaced the slot table")
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	r := newRig(t)
	r.e.SetClip(0, filepath.Join(dir, "a.wav"))
	r.e.SetClip(3, filepath.Join(dir, "sub", "d.wav"))
	r.drain()

	list := filepath.Join(dir, "show.clips")
	if err := r.e.SaveToFile(list); err != nil {
		t.Fatalf("SaveToFile: %v", err)
	}
	r.expect(t, notice(ClipListChanged), notice(RecentlyUsedChanged))
	if st := r.status(t); st.Dirty || st.Filename != list {
		t.Errorf("after save dirty=%v file=%q", st.Dirty, st.Filename)
	}

	r.e.Clear()
	if err := r.e.LoadFromFile(list); err != nil {
		t.Fatal(err)
	}
	st := r.status(t)
	if st.Slots[0].Path != filepath.Join(dir, "a.wav") || st.Slots[3].Path != filepath.Join(dir, "sub", "d.wav") {
		t.Errorf("paths = %q, %q", st.Slots[0].Path, st.Slots[3].Path)
	}

	// Save reuses the current name
	r.e.SetClip(5, filepath.Join(dir, "f.wav"))
	if err := r.e.Save(); err != nil {
		t.Fatal(err)
	}
	paths, err := cliplist.Read(list)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 3 {
		t.Errorf("saved %d entries, want 3", len(paths))
	}
}

func TestSaveWithoutFilename(t *testing.T) {
	r := newRig(t)
	if err := r.e.Save(); !errors.Is(err, ErrNoFilename) {
		t.Errorf("Save = %v, want ErrNoFilename", err)
	}
}

func TestSaveToUnwritablePath(t *testing.T) {
	r := newRig(t)
	r.load(t, 0)
	err := r.e.SaveToFile(filepath.Join(t.TempDir(), "missing", "dir", "x.clips"))
	if !errors.Is(err, cliplist.ErrWrite) {
		t.Errorf("SaveToFile = %v, want ErrWrite", err)
	}
	if st := r.status(t); !st.Dirty || st.Filename != "" {
		t.Errorf("failed save changed state: dirty=%v file=%q", st.Dirty, st.Filename)
	}
}

func TestLoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"c.aiff", "a.wav", "b.mp3"} {
		touch(t, filepath.Join(dir, name))
	}
	for _, name := range []string{"notes.txt", "cover.jpg", "set.clips", "README", "z.doc"} {
		touch(t, filepath.Join(dir, name))
	}
	os.Mkdir(filepath.Join(dir, "nested.wav"), 0o755)

	r := newRig(t)
	r.e.SetClip(7, "/old/x.wav")
	r.drain()

	if err := r.e.LoadFromDirectory(dir); err != nil {
		t.Fatalf("LoadFromDirectory: %v", err)
	}
	st := r.status(t)
	want := []string{"a.wav", "b.mp3", "c.aiff"}
	for i, s := range st.Slots {
		if i < len(want) {
			if !s.Loaded || s.Name != want[i] {
				t.Errorf("slot %d = %q, want %q", i, s.Name, want[i])
			}
		} else if s.Loaded {
			t.Errorf("slot %d = %q, want empty", i, s.Name)
		}
	}
	if !st.Dirty || st.Filename != "" {
		t.Errorf("dirty=%v file=%q, want dirty and no file", st.Dirty, st.Filename)
	}
}

func TestLoadFromDirectoryStopsAtFirstFailure(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.wav", "b.wav", "c.wav"} {
		touch(t, filepath.Join(dir, name))
	}
	r := newRig(t)
	r.dec.failOn("b.wav", &audio.DecodeError{Path: "b.wav", Kind: audio.ErrIO})

	err := r.e.LoadFromDirectory(dir)
	if !errors.Is(err, ErrPartialLoad) || !errors.Is(err, audio.ErrIO) {
		t.Fatalf("err = %v, want ErrPartialLoad wrapping the decode error", err)
	}
	st := r.status(t)
	if !st.Slots[0].Loaded || st.Slots[1].Loaded || st.Slots[2].Loaded {
		t.Errorf("slots = %v %v %v, want only slot 0", st.Slots[0].Loaded, st.Slots[1].Loaded, st.Slots[2].Loaded)
	}
}

func TestLoadFromDirectoryCapsAtSlotCount(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < audio.NumSlots+3; i++ {
		touch(t, filepath.Join(dir, string(rune('a'+i))+".wav"))
	}
	r := newRig(t)
	if err := r.e.LoadFromDirectory(dir); err != nil {
		t.Fatal(err)
	}
	if st := r.status(t); st.Slots[audio.NumSlots-1].Name != "h.wav" {
		t.Errorf("last slot = %q, want h.wav", st.Slots[audio.NumSlots-1].Name)
	}
}

func TestLoadFromMissingDirectory(t *testing.T) {
	r := newRig(t)
	if err := r.e.LoadFromDirectory(filepath.Join(t.TempDir(), "nope")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want not exist", err)
	}
}

func TestLoadRecent(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "one.clips")
	second := filepath.Join(dir, "two.clips")
	cliplist.Write(first, map[int]string{0: filepath.Join(dir, "a.wav")})
	cliplist.Write(second, map[int]string{1: filepath.Join(dir, "b.wav")})

	r := newRig(t)
	r.e.LoadFromFile(first)
	r.e.LoadFromFile(second)

	if err := r.e.LoadRecent(1); err != nil {
		t.Fatal(err)
	}
	st := r.status(t)
	if st.Filename != first || !st.Slots[0].Loaded {
		t.Errorf("file=%q slot0=%v, want one.clips", st.Filename, st.Slots[0].Loaded)
	}
	recent, _ := r.e.RecentlyUsed()
	if len(recent) != 2 || recent[0] != first || recent[1] != second {
		t.Errorf("recent = %v", recent)
	}

	if err := r.e.LoadRecent(5); !errors.Is(err, ErrNoRecent) {
		t.Errorf("LoadRecent(5) = %v, want ErrNoRecent", err)
	}
}

func TestLoadRecentDropsMissingFile(t *testing.T) {
	store := config.NewMemoryStore()
	gone := filepath.Join(t.TempDir(), "gone.clips")
	store.Set(config.RecentKey(0), gone)
	store.Set(config.RecentKey(1), "/elsewhere/kept.clips")

	r := newRigWith(t, &fakeDecoder{}, store)
	err := r.e.LoadRecent(0)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("LoadRecent = %v, want not exist", err)
	}
	recent, _ := r.e.RecentlyUsed()
	if len(recent) != 1 || recent[0] != "/elsewhere/kept.clips" {
		t.Errorf("recent = %v", recent)
	}
	if v, _ := store.Get(config.RecentKey(0)); v != "/elsewhere/kept.clips" {
		t.Errorf("stored recent0 = %q", v)
	}
	if _, ok := store.Get(config.RecentKey(1)); ok {
		t.Error("stale recent1 left in store")
	}
}
