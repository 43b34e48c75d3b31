package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/openmined/dupwatch/internal/utils"
	"github.com/rjeczalik/notify"
)

const (
	DefaultPairWindow = 500 * time.Millisecond
	rawBufferSize     = 128
)

type pendingRename struct {
	path string
	at   time.Time
}

// NotifySource turns native filesystem notifications into Events. Rename
// halves are joined into a single OpMove when they can be paired.
type NotifySource struct {
	root       string
	recursive  bool
	pairWindow time.Duration

	raw    chan notify.EventInfo
	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup

	// rename halves waiting for their partner; only touched by run
	byCookie map[uint32]pendingRename
	vanished []pendingRename
	now      func() time.Time
}

var _ EventSource = (*NotifySource)(nil)

func NewNotifySource(root string, recursive bool) *NotifySource {
	return &NotifySource{
		root:       root,
		recursive:  recursive,
		pairWindow: DefaultPairWindow,
		byCookie:   make(map[uint32]pendingRename),
		now:        time.Now,
	}
}

func (s *NotifySource) SetPairWindow(d time.Duration) {
	s.pairWindow = d
}

func (s *NotifySource) Start(ctx context.Context) error {
	slog.Info("notify source start", "dir", s.root, "recursive", s.recursive)

	s.raw = make(chan notify.EventInfo, rawBufferSize)
	s.events = make(chan Event, eventBufferSize)
	s.done = make(chan struct{})

	path := s.root
	if s.recursive {
		path = filepath.Join(s.root, "...")
	}
	if err := notify.Watch(path, s.raw, notify.Create, notify.Write, notify.Rename); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

func (s *NotifySource) Stop() {
	if s.done == nil {
		return
	}
	notify.Stop(s.raw)
	close(s.done)
	s.wg.Wait()
	slog.Info("notify source stopped")
}

func (s *NotifySource) Events() <-chan Event {
	return s.events
}

func (s *NotifySource) run(ctx context.Context) {
	defer func() {
		s.wg.Done()
		close(s.events)
	}()

	ticker := time.NewTicker(s.pairWindow)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.expire()
		case ei := <-s.raw:
			for _, ev := range s.translate(ei) {
				select {
				case s.events <- ev:
					slog.Debug("notify source", "event", ev)
				case <-ctx.Done():
					return
				case <-s.done:
					return
				}
			}
		}
	}
}

// translate maps one raw notification to zero or more Events.
func (s *NotifySource) translate(ei notify.EventInfo) []Event {
	path := ei.Path()
	now := s.now()
	s.expire()

	switch ei.Event() {
	case notify.Write:
		return []Event{newEvent(OpModify, path, "")}

	case notify.Create:
		if hasRenameCookies {
			cookie := renameCookie(ei)
			if src, found := s.byCookie[cookie]; found && cookie != 0 {
				delete(s.byCookie, cookie)
				return []Event{newEvent(OpMove, path, src.path)}
			}
			return []Event{newEvent(OpCreate, path, "")}
		}
		if src, ok := s.takeVanished(); ok {
			return []Event{newEvent(OpMove, path, src)}
		}
		return []Event{newEvent(OpCreate, path, "")}

	case notify.Rename:
		if hasRenameCookies {
			// a zero cookie is the watched root itself moving
			if cookie := renameCookie(ei); cookie != 0 {
				s.byCookie[cookie] = pendingRename{path: path, at: now}
			}
			return nil
		}
		// without cookies a rename is reported on both ends; the end that
		// still exists is the destination
		if !utils.FileExists(path) && !utils.DirExists(path) {
			s.vanished = append(s.vanished, pendingRename{path: path, at: now})
			return nil
		}
		if src, ok := s.takeVanished(); ok {
			return []Event{newEvent(OpMove, path, src)}
		}
		return []Event{newEvent(OpCreate, path, "")}
	}
	return nil
}

func (s *NotifySource) takeVanished() (string, bool) {
	if len(s.vanished) == 0 {
		return "", false
	}
	src := s.vanished[0]
	s.vanished = s.vanished[1:]
	return src.path, true
}

// expire drops rename halves whose partner never arrived.
func (s *NotifySource) expire() {
	cutoff := s.now().Add(-s.pairWindow)
	for cookie, p := range s.byCookie {
		if p.at.Before(cutoff) {
			slog.Debug("notify source unpaired rename", "path", p.path)
			delete(s.byCookie, cookie)
		}
	}
	for len(s.vanished) > 0 && s.vanished[0].at.Before(cutoff) {
		slog.Debug("notify source unpaired rename", "path", s.vanished[0].path)
		s.vanished = s.vanished[1:]
	}
}
