package watch

import (
	"context"
	"fmt"
	"os"
)

type Op int

const (
	OpCreate Op = iota + 1
	OpModify
	OpMove
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpMove:
		return "move"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Event is a filesystem change. From is set for OpMove only.
type Event struct {
	Op    Op
	Path  string
	From  string
	IsDir bool
}

func (e Event) String() string {
	if e.Op == OpMove {
		return fmt.Sprintf("%s %s -> %s", e.Op, e.From, e.Path)
	}
	return fmt.Sprintf("%s %s", e.Op, e.Path)
}

// EventSource delivers filesystem events until stopped.
type EventSource interface {
	Start(ctx context.Context) error
	Events() <-chan Event
	Stop()
}

const eventBufferSize = 256

func newEvent(op Op, path, from string) Event {
	return Event{Op: op, Path: path, From: from, IsDir: isDir(path)}
}

func isDir(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.IsDir()
}
