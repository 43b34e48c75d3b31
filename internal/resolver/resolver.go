// Package resolver decides what happens to a new file whose content is
// already in the catalog.
package resolver

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

type Decision int

const (
	Keep Decision = iota
	Delete
)

func (d Decision) String() string {
	switch d {
	case Keep:
		return "keep"
	case Delete:
		return "delete"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// ConflictResolver is consulted with the new path and the path already on
// record for the same digest.
type ConflictResolver interface {
	Resolve(ctx context.Context, newPath, existingPath string) (Decision, error)
}

// Mode names a resolver in configuration.
type Mode string

const (
	ModePrompt Mode = "prompt"
	ModeKeep   Mode = "keep"
	ModeDelete Mode = "delete"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModePrompt, ModeKeep, ModeDelete:
		return m, nil
	case "":
		return ModeKeep, nil
	default:
		return "", fmt.Errorf("unknown conflict mode %q", s)
	}
}

// Static returns the same decision for every conflict.
type Static struct {
	Decision Decision
}

var _ ConflictResolver = Static{}

func (s Static) Resolve(_ context.Context, _, _ string) (Decision, error) {
	return s.Decision, nil
}

// Func adapts a plain function.
type Func func(ctx context.Context, newPath, existingPath string) (Decision, error)

func (f Func) Resolve(ctx context.Context, newPath, existingPath string) (Decision, error) {
	return f(ctx, newPath, existingPath)
}

// New builds the resolver for mode. The prompt reads stdin and draws on stdout.
func New(mode Mode) (ConflictResolver, error) {
	return newWithIO(mode, os.Stdin, os.Stdout)
}

func newWithIO(mode Mode, in io.Reader, out io.Writer) (ConflictResolver, error) {
	switch mode {
	case ModeKeep, "":
		return Static{Decision: Keep}, nil
	case ModeDelete:
		return Static{Decision: Delete}, nil
	case ModePrompt:
		return NewPrompt(in, out), nil
	default:
		return nil, fmt.Errorf("unknown conflict mode %q", mode)
	}
}
