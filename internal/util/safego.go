package util

import (
	"runtime/debug"

	"github.com/moltbunker/solverbond/internal/logging"
)

// SafeGoWithName runs fn on a new goroutine, recovering and logging any
// panic with its stack under the given name. The returned channel is closed
// once fn has returned or panicked, so owners can wait for shutdown.
//
//	done := util.SafeGoWithName("notifier", n.run)
//	...
//	<-done
func SafeGoWithName(name string, fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				logging.Error("goroutine panic recovered",
					"goroutine", name,
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn()
	}()
	return done
}
