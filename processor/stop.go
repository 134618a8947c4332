package processor

import (
	"sync"
	"time"
)

// StopSignal is a one-shot graceful stop request. Once fired, in-flight files finish
// but no new file, batch or folder is started.
type StopSignal struct {
	once   sync.Once
	done   chan struct{}
	mu     sync.Mutex
	reason string
	timer  *time.Timer
}

func NewStopSignal() *StopSignal {
	return &StopSignal{done: make(chan struct{})}
}

// Fire requests a stop. Only the first call has an effect.
func (s *StopSignal) Fire(reason string) {
	s.once.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		close(s.done)
	})
}

// FireAfter arms the signal to fire once d has elapsed. A non-positive d does nothing.
func (s *StopSignal) FireAfter(d time.Duration, reason string) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(d, func() { s.Fire(reason) })
}

// Disarm cancels a pending FireAfter
func (s *StopSignal) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Fired reports whether a stop was requested. A nil signal never fires.
func (s *StopSignal) Fired() bool {
	if s == nil {
		return false
	}
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Done is closed when the signal fires
func (s *StopSignal) Done() <-chan struct{} {
	return s.done
}

// Reason returns the reason passed to the first Fire
func (s *StopSignal) Reason() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}
