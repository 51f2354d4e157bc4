package volumes

import "time"

// Volume is a named persistent storage unit owned by the container runtime.
// The bundling core only ever reads it (snapshot) or writes into it
// (restore); it never deletes one.
type Volume struct {
	Name       string
	Mountpoint string
	CreatedAt  time.Time
}
