package process

import "sync"

// Multiplexer merges several line sources into one channel.
//
// Lines from one source keep their order. Lines from different sources
// interleave in arrival order with no further guarantee.
type Multiplexer struct {
	sources []LineSource
	lines   chan Line
	done    chan struct{}

	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewMultiplexer creates a multiplexer over sources. Call Start to begin.
func NewMultiplexer(sources ...LineSource) *Multiplexer {
	return &Multiplexer{
		sources: sources,
		lines:   make(chan Line),
		done:    make(chan struct{}),
	}
}

// Start launches one goroutine per source. The Lines channel is closed once
// every source has returned.
func (m *Multiplexer) Start() {
	m.startOnce.Do(func() {
		m.wg.Add(len(m.sources))
		for _, src := range m.sources {
			go func(src LineSource) {
				defer m.wg.Done()
				src.Run(m.lines, m.done)
			}(src)
		}
		go func() {
			m.wg.Wait()
			close(m.lines)
		}()
	})
}

// Lines returns the merged channel.
func (m *Multiplexer) Lines() <-chan Line {
	return m.lines
}

// Stop tells sources to stop sending. Sources blocked in a read only return
// once their input is closed.
func (m *Multiplexer) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
	})
}

// Wait blocks until every source has returned.
func (m *Multiplexer) Wait() {
	m.wg.Wait()
}

// Stats sums bytes and lines read across sources.
func (m *Multiplexer) Stats() (bytesRead, linesRead int64) {
	for _, src := range m.sources {
		b, l := src.Stats()
		bytesRead += b
		linesRead += l
	}
	return bytesRead, linesRead
}
