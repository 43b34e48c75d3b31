//go:build linux

package watch

import (
	"github.com/rjeczalik/notify"
	"golang.org/x/sys/unix"
)

const hasRenameCookies = true

// renameCookie returns the inotify cookie shared by the two halves of a
// rename. Plain creates carry 0.
func renameCookie(ei notify.EventInfo) uint32 {
	switch sys := ei.Sys().(type) {
	case *unix.InotifyEvent:
		if sys != nil {
			return sys.Cookie
		}
	case unix.InotifyEvent:
		return sys.Cookie
	}
	return 0
}
