package wtnt

import "errors"

var (
	ErrInvalidMagic       = errors.New("invalid WTNT magic")
	ErrUnsupportedVersion = errors.New("unsupported WTNT version")
	ErrCorruptFile        = errors.New("corrupt WTNT file")
	ErrChecksumMismatch   = errors.New("WTNT checksum mismatch")
)
