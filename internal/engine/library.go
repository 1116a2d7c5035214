package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/satindergrewal/clipdeck/internal/audio"
	"github.com/satindergrewal/clipdeck/internal/cliplist"
)

type table = [audio.NumSlots]*audio.Clip

// LoadFromFile replaces the slot table with the clips listed in a clip list
// file. Entries whose file cannot be decoded, or whose slot is out of
// range, are skipped. The file becomes the current list and moves to the
// front of the recently used list.
func (e *Engine) LoadFromFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	paths, err := cliplist.Read(abs)
	if err != nil {
		e.log.Warn("reading clip list", zap.String("path", abs), zap.Error(err))
		return err
	}

	keys := make([]int, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	var slots table
	for _, k := range keys {
		if !validSlot(k) {
			e.log.Warn("clip list entry out of range", zap.Int("slot", k), zap.String("list", abs))
			continue
		}
		clip, err := e.decoder.Decode(paths[k])
		if err != nil {
			e.log.Warn("skipping clip", zap.Int("slot", k), zap.String("path", paths[k]), zap.Error(err))
			continue
		}
		slots[k] = clip
	}

	return e.do(func() error {
		e.replace(slots)
		e.filename = abs
		e.dirty = false
		e.emit(ClipListChanged, -1)
		e.pushRecent(abs)
		e.log.Info("clip list loaded", zap.String("path", abs), zap.Int("clips", count(slots)))
		return nil
	})
}

// SaveToFile writes the slot table to path, which becomes the current
// list.
func (e *Engine) SaveToFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	return e.do(func() error { return e.saveTo(abs) })
}

// Save writes the slot table to the current list file.
func (e *Engine) Save() error {
	return e.do(func() error {
		if e.filename == "" {
			return ErrNoFilename
		}
		return e.saveTo(e.filename)
	})
}

func (e *Engine) saveTo(path string) error {
	paths := make(map[int]string)
	for i, c := range e.slots {
		if c != nil {
			paths[i] = c.Path
		}
	}
	if err := cliplist.Write(path, paths); err != nil {
		e.log.Warn("writing clip list", zap.String("path", path), zap.Error(err))
		return err
	}
	changed := e.filename != path || e.dirty
	e.filename = path
	e.dirty = false
	if changed {
		e.emit(ClipListChanged, -1)
	}
	e.pushRecent(path)
	e.log.Info("clip list saved", zap.String("path", path), zap.Int("clips", len(paths)))
	return nil
}

// LoadFromDirectory fills slots in file name order with the supported
// audio files in dir. The first file that fails to decode ends the load
// with ErrPartialLoad; slots filled before it are kept. The result is an
// unsaved list.
func (e *Engine) LoadFromDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var (
		slots   table
		filled  int
		partial error
	)
	for _, ent := range entries {
		if filled == audio.NumSlots {
			break
		}
		if ent.IsDir() || !audio.IsSupported(ent.Name()) {
			continue
		}
		path := filepath.Join(dir, ent.Name())
		clip, err := e.decoder.Decode(path)
		if err != nil {
			partial = err
			e.log.Warn("directory load stopped", zap.String("path", path), zap.Error(err))
			break
		}
		slots[filled] = clip
		filled++
	}

	err = e.do(func() error {
		e.replace(slots)
		changed := e.filename != "" || !e.dirty
		e.filename = ""
		e.dirty = true
		if changed {
			e.emit(ClipListChanged, -1)
		}
		e.log.Info("directory loaded", zap.String("dir", dir), zap.Int("clips", filled))
		return nil
	})
	if err != nil {
		return err
	}
	if partial != nil {
		return fmt.Errorf("%w: %w", ErrPartialLoad, partial)
	}
	return nil
}

// Clear empties every slot and forgets the current list file. A playing
// clip is stopped first.
func (e *Engine) Clear() error {
	return e.do(func() error {
		e.replace(table{})
		changed := e.filename != "" || e.dirty
		e.filename = ""
		e.dirty = false
		if changed {
			e.emit(ClipListChanged, -1)
		}
		return nil
	})
}

// LoadRecent loads the n-th most recently used list. An entry whose file no
// longer exists is dropped from the list.
func (e *Engine) LoadRecent(n int) error {
	var path string
	err := e.do(func() error {
		p, ok := e.recent.At(n)
		if !ok {
			return fmt.Errorf("%w: %d", ErrNoRecent, n)
		}
		path = p
		return nil
	})
	if err != nil {
		return err
	}

	err = e.LoadFromFile(path)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		e.do(func() error {
			if e.recent.Remove(path) {
				e.saveRecent()
			}
			return nil
		})
	}
	return err
}

// RecentlyUsed returns the remembered list files, most recent first.
func (e *Engine) RecentlyUsed() ([]string, error) {
	var paths []string
	err := e.do(func() error {
		paths = e.recent.Paths()
		return nil
	})
	return paths, err
}

// replace swaps in a new slot table, ending playback first.
func (e *Engine) replace(slots table) {
	e.halt()
	e.slots = slots
	e.emit(SlotsChanged, -1)
}

func (e *Engine) pushRecent(path string) {
	if e.recent.Push(path) {
		e.saveRecent()
	}
}

func (e *Engine) saveRecent() {
	e.recent.Save(e.settings)
	if err := e.settings.Flush(); err != nil {
		e.log.Warn("saving settings", zap.Error(err))
	}
	e.emit(RecentlyUsedChanged, -1)
}

func count(slots table) int {
	n := 0
	for _, c := range slots {
		if c != nil {
			n++
		}
	}
	return n
}
