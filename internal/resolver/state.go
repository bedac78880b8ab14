// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package resolver

// State is a plugin lifecycle state.
type State int

// Lifecycle states.
const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrorKind is the load error a plugin carries alongside its state.
// It is cleared only by a successful load.
type ErrorKind int

// Error kinds.
const (
	NoError ErrorKind = iota
	FileNotFound
	FailedToLoad
)

func (k ErrorKind) String() string {
	switch k {
	case NoError:
		return "none"
	case FileNotFound:
		return "file_not_found"
	case FailedToLoad:
		return "failed_to_load"
	default:
		return "unknown"
	}
}
