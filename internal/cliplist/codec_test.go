package cliplist

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func legacyBytes(records map[int32]string, order []int32) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, int32(len(order)))
	for _, k := range order {
		binary.Write(&buf, binary.LittleEndian, k)
		s := records[k]
		buf.Write(binary.AppendUvarint(nil, uint64(len(s))))
		buf.WriteString(s)
	}
	return buf.Bytes()
}

// --- Round trip ---

func TestRoundTripRelative(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "set"+Extension)
	in := map[int]string{
		0: filepath.Join(dir, "a.wav"),
		3: filepath.Join(dir, "sounds", "b.mp3"),
		7: filepath.Join(filepath.Dir(dir), "elsewhere", "c.wav"),
	}

	if err := Write(list, in); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out, err := Read(list)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("Read returned %d entries, want %d", len(out), len(in))
	}
	for k, want := range in {
		if out[k] != want {
			t.Errorf("slot %d = %q, want %q", k, out[k], want)
		}
	}
}

func TestRoundTripSurvivesDirectoryMove(t *testing.T) {
	root := t.TempDir()
	oldDir := filepath.Join(root, "old")
	newDir := filepath.Join(root, "new")
	if err := os.MkdirAll(oldDir, 0o755); err != nil {
		t.Fatal(err)
	}

	oldList := filepath.Join(oldDir, "set.clips")
	if err := Write(oldList, map[int]string{1: filepath.Join(oldDir, "sfx", "boom.wav")}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := os.Rename(oldDir, newDir); err != nil {
		t.Fatal(err)
	}

	out, err := Read(filepath.Join(newDir, "set.clips"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if want := filepath.Join(newDir, "sfx", "boom.wav"); out[1] != want {
		t.Errorf("slot 1 = %q, want %q", out[1], want)
	}
}

func TestWriteStoresRelativeForwardSlashes(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "set.clips")
	if err := Write(list, map[int]string{0: filepath.Join(dir, "sfx", "a.wav")}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(list)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte("CLIP")) {
		t.Errorf("versioned file should start with magic, got %q", data[:4])
	}
	if !bytes.Contains(data, []byte("sfx/a.wav")) {
		t.Errorf("stored path should be relative, file = %q", data)
	}
	if bytes.Contains(data, []byte(dir)) {
		t.Errorf("stored path should not contain list directory")
	}
}

func TestWriteLegacyHasNoHeader(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "set.clips")
	if err := WriteLegacy(list, map[int]string{2: filepath.Join(dir, "x.wav")}); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(list)
	want := legacyBytes(map[int32]string{2: "x.wav"}, []int32{2})
	if !bytes.Equal(data, want) {
		t.Errorf("legacy bytes = %v, want %v", data, want)
	}
}

// --- Legacy compatibility ---

func TestReadLegacyLayout(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "old.clips")
	abs := filepath.Join(dir, "abs", "z.wav")
	data := legacyBytes(map[int32]string{
		0: "a.wav",
		1: `sub\b.wav`,
		5: abs,
	}, []int32{0, 1, 5})
	if err := os.WriteFile(list, data, 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := Read(list)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := map[int]string{
		0: filepath.Join(dir, "a.wav"),
		1: filepath.Join(dir, "sub", "b.wav"),
		5: abs,
	}
	for k, w := range want {
		if out[k] != w {
			t.Errorf("slot %d = %q, want %q", k, out[k], w)
		}
	}
}

func TestReadLongPathUsesMultiByteLength(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "long.clips")
	name := string(bytes.Repeat([]byte("n"), 200)) + ".wav"
	if err := Write(list, map[int]string{0: filepath.Join(dir, name)}); err != nil {
		t.Fatal(err)
	}
	out, err := Read(list)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if out[0] != filepath.Join(dir, name) {
		t.Errorf("long path mangled: %q", out[0])
	}
}

// --- Failures ---

func TestReadCorrupt(t *testing.T) {
	full := legacyBytes(map[int32]string{0: "a.wav", 1: "b.wav"}, []int32{0, 1})
	negative := new(bytes.Buffer)
	binary.Write(negative, binary.LittleEndian, int32(-1))
	badVersion := append([]byte("CLIP"), 9, 0, 0, 0, 0, 0, 0, 0)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short count", []byte{1, 0}},
		{"truncated record", full[:len(full)-2]},
		{"count past end", []byte{5, 0, 0, 0}},
		{"negative count", negative.Bytes()},
		{"unknown version", badVersion},
	}
	// count says 2 records but only one present
	oneOfTwo := legacyBytes(map[int32]string{0: "a.wav"}, []int32{0})
	oneOfTwo[0] = 2
	tests = append(tests, struct {
		name string
		data []byte
	}{"missing record", oneOfTwo})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list := filepath.Join(t.TempDir(), "bad.clips")
			if err := os.WriteFile(list, tt.data, 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := Read(list)
			if !errors.Is(err, ErrCorruptFile) {
				t.Errorf("Read err = %v, want ErrCorruptFile", err)
			}
		})
	}
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "none.clips"))
	if !errors.Is(err, ErrCorruptFile) {
		t.Errorf("err = %v, want ErrCorruptFile", err)
	}
}

func TestWriteFailureLeavesNoFile(t *testing.T) {
	list := filepath.Join(t.TempDir(), "missing-dir", "set.clips")
	err := Write(list, map[int]string{0: "/tmp/a.wav"})
	if !errors.Is(err, ErrWrite) {
		t.Fatalf("err = %v, want ErrWrite", err)
	}
	if _, statErr := os.Stat(list); !os.IsNotExist(statErr) {
		t.Errorf("failed write left a file behind: %v", statErr)
	}
}

func TestWriteReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "set.clips")
	if err := Write(list, map[int]string{0: filepath.Join(dir, "a.wav"), 1: filepath.Join(dir, "b.wav")}); err != nil {
		t.Fatal(err)
	}
	if err := Write(list, map[int]string{4: filepath.Join(dir, "c.wav")}); err != nil {
		t.Fatal(err)
	}
	out, err := Read(list)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[4] != filepath.Join(dir, "c.wav") {
		t.Errorf("Read after overwrite = %v", out)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}
}
