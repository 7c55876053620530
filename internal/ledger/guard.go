package ledger

// Guard is a non-reentrancy flag for one contract function. It is only
// touched while the transition lock is held, so it needs no locking of its own.
//
//	if err := h.guard.Enter(); err != nil {
//		return err
//	}
//	defer h.guard.Exit()
type Guard struct {
	held bool
}

// Enter marks the guarded function as running.
func (g *Guard) Enter() error {
	if g.held {
		return ErrReentrantCall
	}
	g.held = true
	return nil
}

// Exit releases the guard.
func (g *Guard) Exit() {
	g.held = false
}

// Held reports whether the guarded function is currently executing.
func (g *Guard) Held() bool {
	return g.held
}
