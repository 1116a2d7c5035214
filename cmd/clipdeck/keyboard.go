package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/satindergrewal/clipdeck/internal/audio"
	"github.com/satindergrewal/clipdeck/internal/engine"
)

type keyAction int

const (
	keyNone keyAction = iota
	keyToggle
	keyStop
	keyQuit
)

// parseKey maps one input line to an action. Slots are typed 1-based.
func parseKey(line string) (keyAction, int) {
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case "":
		return keyNone, 0
	case "s", "stop":
		return keyStop, 0
	case "q", "quit":
		return keyQuit, 0
	}
	n, err := strconv.Atoi(line)
	if err != nil || n < 1 || n > audio.NumSlots {
		return keyNone, 0
	}
	return keyToggle, n - 1
}

type player interface {
	Toggle(i int) error
	Stop() error
}

// readKeys drives p from line input until EOF, ctx ends or a quit line,
// in which case quit is called.
func readKeys(ctx context.Context, r io.Reader, p player, quit func(), log *zap.Logger) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		action, slot := parseKey(sc.Text())
		var err error
		switch action {
		case keyToggle:
			err = p.Toggle(slot)
		case keyStop:
			err = p.Stop()
			if errors.Is(err, engine.ErrNotPlaying) {
				err = nil
			}
		case keyQuit:
			quit()
			return
		default:
			continue
		}
		if err != nil {
			log.Info("key ignored", zap.String("key", sc.Text()), zap.Error(err))
		}
	}
	if err := sc.Err(); err != nil {
		log.Warn("reading keys", zap.Error(err))
	}
}
