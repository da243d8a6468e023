package jitlink

import "errors"

var (
	// ErrMalformedObject occurs when object bytes fail to parse; the module is never registered.
	ErrMalformedObject = errors.New("malformed object module")
	// ErrDuplicateKey occurs when AddModule reuses a key of a live module.
	ErrDuplicateKey = errors.New("module key already registered")
	// ErrUnknownModule occurs when a key names no live module.
	ErrUnknownModule = errors.New("unknown module key")
	// ErrSymbolNotFound occurs when no live module defines a symbol. Treat as feature unavailable, not fatal.
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrRelocationFailed occurs when finalization cannot place or relocate a module.
	// The record stays registered but is unusable; remove and resubmit a corrected module.
	ErrRelocationFailed = errors.New("relocation failed")
	// ErrNotLoading occurs when MapSectionAddress is called outside the load window.
	ErrNotLoading = errors.New("module is not mid-load")
	// ErrModuleRemoved occurs in debug mode when a retained record of a removed module is used.
	ErrModuleRemoved = errors.New("module was removed")
)
