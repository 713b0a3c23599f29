package agent

import "context"

// fakeTransport is the in-process test double used by this package's own
// tests (internal/session's tests define their own transports). Scripts are
// consumed one per Send call, in order.
type fakeTransport struct {
	SystemPrompt string
	Sent         []Input
	Scripts      [][]Event

	initErr      error
	sendErr      error
	cleanupCalls int
}

func newFakeTransport(scripts ...[]Event) *fakeTransport {
	return &fakeTransport{Scripts: scripts}
}

func (f *fakeTransport) Initialize(ctx context.Context, systemPrompt string) error {
	f.SystemPrompt = systemPrompt
	return f.initErr
}

func (f *fakeTransport) Send(ctx context.Context, in Input) (<-chan Event, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.Sent = append(f.Sent, in)

	var script []Event
	if len(f.Scripts) > 0 {
		script = f.Scripts[0]
		f.Scripts = f.Scripts[1:]
	}

	ch := make(chan Event, len(script))
	for _, ev := range script {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (f *fakeTransport) Cleanup(ctx context.Context) error {
	f.cleanupCalls++
	return nil
}
