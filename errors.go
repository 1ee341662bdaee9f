package pintofs

import "errors"

// Package-specific error variables, usable with errors.Is() or direct
// comparison (the operations in this package return these exact values,
// never wrapped, except where a BlockDev-level error is chained with
// %w — see blockdev.go).
var (
	// ErrNameTooLong is returned when a path component exceeds NameMax bytes.
	ErrNameTooLong = errors.New("pintofs: name too long")

	// ErrNotFound is returned when a lookup fails to find the named entry.
	ErrNotFound = errors.New("pintofs: no such file or directory")

	// ErrAlreadyExists is returned when creating an entry whose name is
	// already in use in the target directory.
	ErrAlreadyExists = errors.New("pintofs: file exists")

	// ErrNotADirectory is returned when a directory operation, or a
	// non-terminal path component, names something other than a directory.
	ErrNotADirectory = errors.New("pintofs: not a directory")

	// ErrIsADirectory is returned when a file operation names a directory.
	ErrIsADirectory = errors.New("pintofs: is a directory")

	// ErrDirectoryNotEmpty is returned when removing a directory that
	// still holds entries beyond its `.`/`..` prelude.
	ErrDirectoryNotEmpty = errors.New("pintofs: directory not empty")

	// ErrInUse is returned when removing a directory that is some task's
	// current working directory, or that is open more than once.
	ErrInUse = errors.New("pintofs: resource busy")

	// ErrNoSpace is returned when the free map has no run of sectors long
	// enough to satisfy an allocation, or a resize would exceed MaxFileSize.
	ErrNoSpace = errors.New("pintofs: no space left on device")

	// ErrInvalidArgument is returned for malformed paths (empty, or
	// naming `.`/`..` where a real entry name is required).
	ErrInvalidArgument = errors.New("pintofs: invalid argument")

	// ErrShortIO is returned when a read or write transfers fewer bytes
	// than a fixed-size record requires.
	ErrShortIO = errors.New("pintofs: short read or write")
)
