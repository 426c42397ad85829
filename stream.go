package agent

// AgentStream is an iterator over events emitted during an agent run.
// Usage:
//
//	stream := a.Stream(ctx, "prompt")
//	for stream.Next() {
//	    event := stream.Current()
//	    // handle event
//	}
//	if err := stream.Err(); err != nil {
//	    // handle error
//	}
type AgentStream struct {
	events  chan Event
	current Event
	result  *ResultEvent
	err     error
	done    bool
}

func newStream(events chan Event) *AgentStream {
	return &AgentStream{events: events}
}

// failedStream returns a stream that yields nothing and reports err.
func failedStream(err error) *AgentStream {
	ch := make(chan Event)
	close(ch)
	s := newStream(ch)
	s.err = err
	return s
}

// Next advances to the next event. Returns false when the stream is exhausted
// or an error has occurred.
func (s *AgentStream) Next() bool {
	if s.done || s.err != nil {
		return false
	}
	event, ok := <-s.events
	if !ok {
		s.done = true
		return false
	}
	if r, ok := event.(*ResultEvent); ok {
		s.result = r
	}
	s.current = event
	return true
}

// Current returns the most recent event returned by Next.
func (s *AgentStream) Current() Event {
	return s.current
}

// Err returns the error that prevented the run from starting, or the
// terminal error of a run that was cancelled or failed. Step budget and
// cost budget exhaustion are reported on the Result, not here.
func (s *AgentStream) Err() error {
	if s.err != nil {
		return s.err
	}
	if s.result != nil {
		switch s.result.Subtype {
		case SubtypeCancelled, SubtypeExecutionError:
			return s.result.Err()
		}
	}
	return nil
}

// Result returns the final result once the stream is exhausted, or nil.
func (s *AgentStream) Result() *Result {
	return s.result
}

// Drain consumes the remaining events and returns the final result.
func (s *AgentStream) Drain() (*Result, error) {
	for s.Next() {
	}
	return s.result, s.Err()
}
