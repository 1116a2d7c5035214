package audio

import (
	"errors"
	"fmt"
)

// Decode failure kinds. Match with errors.Is.
var (
	ErrFileNotFound      = errors.New("file not found")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrTooLong           = errors.New("audio file too long")
	ErrIO                = errors.New("audio read failed")
)

// DecodeError reports why a file could not be turned into a Clip.
type DecodeError struct {
	Path string
	Kind error
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s: %v: %v", e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.Path, e.Kind)
}

func (e *DecodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func decodeErr(path string, kind, err error) error {
	return &DecodeError{Path: path, Kind: kind, Err: err}
}
