package core

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineHalted is returned for every submission after an invariant
	// violation stopped the engine.
	ErrEngineHalted = errors.New("core: engine halted")
	// ErrEngineStopped is returned to producers once Run has returned.
	ErrEngineStopped = errors.New("core: engine stopped")
	// ErrNotRecovered is returned when the engine is used before Recover.
	ErrNotRecovered = errors.New("core: engine not recovered")
)

// StorageError reports a failed log append. The state change it carried was
// neither applied nor acknowledged and may be resubmitted.
type StorageError struct {
	Op       string
	Sequence uint64
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("core: storage %s at sequence %d: %v", e.Op, e.Sequence, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// RecoveryError reports a store that cannot be replayed: a corrupt or missing
// record, a bad snapshot or a record the reducer refuses. Startup must stop
// until an operator repairs the store.
type RecoveryError struct {
	Sequence uint64
	Err      error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("core: recovery failed at sequence %d: %v", e.Sequence, e.Err)
}

func (e *RecoveryError) Unwrap() error { return e.Err }
