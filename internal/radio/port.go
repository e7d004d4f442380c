package radio

import (
	"io"
)

// Porter defines the minimal interface needed for the radio's serial port.
// This abstraction enables unit testing without real radio hardware.
type Porter interface {
	io.ReadWriter
	io.Closer
}

// PortFactory defines an interface for creating radio ports.
// This abstraction enables dependency injection of port creation.
type PortFactory interface {
	// Open opens a port at the specified path with the given options.
	Open(path string, opts PortOptions) (Porter, error)
}

// PortOpener is a function type for opening radio ports.
// This allows for easier testing by replacing the opener function.
type PortOpener func(path string, opts PortOptions) (Porter, error)
