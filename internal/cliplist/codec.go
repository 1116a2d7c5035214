// Package cliplist reads and writes the slot-to-file map stored in .clips
// files.
//
// The legacy layout is a little-endian int32 record count followed by
// (int32 key, string path) records, where each string is a uvarint byte
// length followed by UTF-8 bytes. Current files prefix that body with the
// "CLIP" magic and an int32 version.
package cliplist

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
)

// Extension is the conventional clip list file extension.
const Extension = ".clips"

// Version is the layout version written after the magic.
const Version = 1

var magic = [4]byte{'C', 'L', 'I', 'P'}

// maxPathLen bounds a single stored path; anything larger is treated as
// corruption rather than allocated.
const maxPathLen = 1 << 16

// Failure kinds. Match with errors.Is.
var (
	ErrCorruptFile = errors.New("corrupt clip list")
	ErrWrite       = errors.New("clip list write failed")
)

// Error wraps a codec failure with the file it concerns.
type Error struct {
	Path string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Kind)
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Write stores paths into file, relativized against the file's directory.
func Write(file string, paths map[int]string) error {
	return write(file, paths, true)
}

// WriteLegacy stores paths without the versioned header, for files that must
// stay readable by older builds.
func WriteLegacy(file string, paths map[int]string) error {
	return write(file, paths, false)
}

func write(file string, paths map[int]string, versioned bool) error {
	dir := filepath.Dir(file)
	body, err := encode(dir, paths, versioned)
	if err != nil {
		return &Error{Path: file, Kind: ErrWrite, Err: err}
	}
	if err := writeAtomic(file, body); err != nil {
		return &Error{Path: file, Kind: ErrWrite, Err: err}
	}
	return nil
}

func encode(dir string, paths map[int]string, versioned bool) ([]byte, error) {
	keys := make([]int, 0, len(paths))
	for k := range paths {
		if k < math.MinInt32 || k > math.MaxInt32 {
			return nil, fmt.Errorf("slot key %d out of int32 range", k)
		}
		keys = append(keys, k)
	}
	sort.Ints(keys)

	var buf bytes.Buffer
	if versioned {
		buf.Write(magic[:])
		binary.Write(&buf, binary.LittleEndian, int32(Version))
	}
	binary.Write(&buf, binary.LittleEndian, int32(len(keys)))
	for _, k := range keys {
		binary.Write(&buf, binary.LittleEndian, int32(k))
		writeString(&buf, Relativize(dir, paths[k]))
	}
	return buf.Bytes(), nil
}

// writeString emits a uvarint length prefix and the raw UTF-8 bytes.
func writeString(buf *bytes.Buffer, s string) {
	buf.Write(binary.AppendUvarint(nil, uint64(len(s))))
	buf.WriteString(s)
}

// writeAtomic writes data beside file and renames it into place so a failed
// write never leaves a truncated list behind.
func writeAtomic(file string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(file), "."+filepath.Base(file)+".*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, file); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}

// Read loads file and returns each stored path resolved against the file's
// directory. Both the legacy and the versioned layout are accepted.
func Read(file string) (map[int]string, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, &Error{Path: file, Kind: ErrCorruptFile, Err: err}
	}
	raw, err := decode(data)
	if err != nil {
		return nil, &Error{Path: file, Kind: ErrCorruptFile, Err: err}
	}

	dir := filepath.Dir(file)
	out := make(map[int]string, len(raw))
	for k, p := range raw {
		out[k] = Resolve(dir, p)
	}
	return out, nil
}

func decode(data []byte) (map[int]string, error) {
	r := bytes.NewReader(data)
	if len(data) >= 8 && bytes.Equal(data[:4], magic[:]) {
		r.Seek(4, io.SeekStart)
		var version int32
		if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
			return nil, fmt.Errorf("version: %w", err)
		}
		if version != Version {
			return nil, fmt.Errorf("unknown version %d", version)
		}
	}

	var count int32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}
	if count < 0 {
		return nil, fmt.Errorf("negative count %d", count)
	}

	out := make(map[int]string)
	for i := int32(0); i < count; i++ {
		var key int32
		if err := binary.Read(r, binary.LittleEndian, &key); err != nil {
			return nil, fmt.Errorf("record %d key: %w", i, err)
		}
		s, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("record %d path: %w", i, err)
		}
		out[int(key)] = s
	}
	return out, nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	if n > maxPathLen || n > uint64(r.Len()) {
		return "", io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
