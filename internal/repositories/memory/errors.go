package memory

import "fmt"

type errorKind int

const (
	kindNotFound errorKind = iota + 1
	kindConflict
	kindStale
	kindInvalid
)

// Error implements repositories.RepositoryError for the in-memory store.
type Error struct {
	op   string
	id   string
	kind errorKind
}

func (e *Error) Error() string {
	switch e.kind {
	case kindNotFound:
		return fmt.Sprintf("memory: %s %s: not found", e.op, e.id)
	case kindConflict:
		return fmt.Sprintf("memory: %s %s: already exists", e.op, e.id)
	case kindStale:
		return fmt.Sprintf("memory: %s %s: modified concurrently", e.op, e.id)
	default:
		return fmt.Sprintf("memory: %s %s: invalid input", e.op, e.id)
	}
}

func (e *Error) IsNotFound() bool    { return e != nil && e.kind == kindNotFound }
func (e *Error) IsConflict() bool    { return e != nil && (e.kind == kindConflict || e.kind == kindStale) }
func (e *Error) IsUnavailable() bool { return false }
