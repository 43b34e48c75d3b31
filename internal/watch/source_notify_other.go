//go:build !linux

package watch

import "github.com/rjeczalik/notify"

const hasRenameCookies = false

func renameCookie(notify.EventInfo) uint32 {
	return 0
}
