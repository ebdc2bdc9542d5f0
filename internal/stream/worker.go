package stream

import "sync"

// Worker owns at most one acquisition goroutine. It is not safe for
// concurrent use; callers hold the source's lifecycle lock (see StartWith
// and StopWith).
type Worker struct {
	quit chan struct{}
	wg   sync.WaitGroup
}

// Go launches loop. loop must return soon after quit is closed.
func (w *Worker) Go(loop func(quit <-chan struct{})) {
	w.quit = make(chan struct{})
	w.wg.Add(1)
	go func(quit <-chan struct{}) {
		defer w.wg.Done()
		loop(quit)
	}(w.quit)
}

// Halt signals the goroutine and blocks until it has exited.
func (w *Worker) Halt() {
	if w.quit == nil {
		return
	}
	closeIfOpen(w.quit)
	w.wg.Wait()
	w.quit = nil
}

// Running reports whether a goroutine was launched and not yet halted.
func (w *Worker) Running() bool {
	return w.quit != nil
}

func closeIfOpen(c chan struct{}) {
	select {
	case <-c:
	default:
		close(c)
	}
}
