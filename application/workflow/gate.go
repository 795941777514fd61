package workflow

import "context"

// Gate is the suspension point used while a human solves an interrupt.
// Acknowledge may be called from any goroutine, before or after Wait starts.
type Gate struct {
	ch chan struct{}
}

func NewGate() *Gate {
	return &Gate{ch: make(chan struct{}, 1)}
}

// Acknowledge releases the current (or next) Wait. Extra calls are dropped.
func (g *Gate) Acknowledge() {
	select {
	case g.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until Acknowledge is called or ctx is done
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reset discards an acknowledgment left over from an earlier pause
func (g *Gate) reset() {
	select {
	case <-g.ch:
	default:
	}
}
