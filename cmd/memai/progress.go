package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

// progressDots animates a thinking indicator on stdout while a request is in
// flight. It stays silent when stdout is not a terminal so piped output is
// not polluted with control characters.
type progressDots struct {
	mu      sync.Mutex
	done    chan struct{}
	stopped chan struct{}
	istty   bool
}

func newProgressDots() *progressDots {
	return &progressDots{
		istty: term.IsTerminal(int(os.Stdout.Fd())),
	}
}

// Start begins the animation. A second Start before Stop is a no-op.
func (p *progressDots) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.istty || p.done != nil {
		return
	}
	p.done = make(chan struct{})
	p.stopped = make(chan struct{})
	go p.animate(p.done, p.stopped)
}

// Stop halts the animation and clears the line.
func (p *progressDots) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		return
	}
	close(p.done)
	<-p.stopped
	p.done = nil
	p.stopped = nil
	fmt.Print("\r                    \r")
}

func (p *progressDots) animate(done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	frames := []string{"", ".", "..", "..."}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for i := 0; ; i++ {
		fmt.Printf("\r%-3s", frames[i%len(frames)])
		select {
		case <-done:
			return
		case <-ticker.C:
		}
	}
}
