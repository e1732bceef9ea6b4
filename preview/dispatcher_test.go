package preview

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func testIdGenerator() IdGenerator {
	mutex := &sync.Mutex{}
	next := 0
	return func() string {
		mutex.Lock()
		defer mutex.Unlock()
		id := fmt.Sprintf("call-%d", next)
		next += 1
		return id
	}
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	end := time.Now().Add(5 * time.Second)
	for time.Now().Before(end) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func TestCallCorrelationOutOfOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local, remote := NewPipeChannel(ctx)
	dispatcher := newCommandDispatcher(ctx, local, testIdGenerator())
	defer dispatcher.Close()

	commands := make(chan map[string]any, 8)
	remote.SetReceiveCallback(func(payload map[string]any) {
		commands <- payload
	})

	n := 3
	type callOutcome struct {
		name   string
		fields map[string]any
		err    error
	}
	outcomes := make(chan *callOutcome, n)
	for i := 0; i < n; i += 1 {
		name := fmt.Sprintf("command-%d", i)
		go func() {
			fields, err := dispatcher.Call(ctx, name, map[string]any{"arg": name})
			outcomes <- &callOutcome{name: name, fields: fields, err: err}
		}()
	}

	received := []map[string]any{}
	for i := 0; i < n; i += 1 {
		received = append(received, <-commands)
	}

	// reply in reverse arrival order. completion must still pair by id.
	for i := n - 1; 0 <= i; i -= 1 {
		command := received[i]
		remote.Send(map[string]any{
			"id":   command["id"],
			"echo": command["name"],
		})
	}

	for i := 0; i < n; i += 1 {
		outcome := <-outcomes
		assert.Equal(t, nil, outcome.err)
		assert.Equal(t, outcome.name, outcome.fields["echo"])
	}
}

func TestDuplicateReplyIsNoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local, remote := NewPipeChannel(ctx)
	dispatcher := newCommandDispatcher(ctx, local, testIdGenerator())
	defer dispatcher.Close()

	remote.SetReceiveCallback(func(payload map[string]any) {
		// same reply delivered twice
		reply := map[string]any{
			"id":    payload["id"],
			"value": "first",
		}
		remote.Send(reply)
		remote.Send(reply)
	})

	fields, err := dispatcher.Call(ctx, "ping", nil)
	assert.Equal(t, nil, err)
	assert.Equal(t, "first", fields["value"])

	// the dispatcher stays usable after the spurious duplicate
	fields, err = dispatcher.Call(ctx, "ping", nil)
	assert.Equal(t, nil, err)
}

func TestErrorReplyWrapsCommandName(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local, remote := NewPipeChannel(ctx)
	dispatcher := newCommandDispatcher(ctx, local, testIdGenerator())
	defer dispatcher.Close()

	remote.SetReceiveCallback(func(payload map[string]any) {
		remote.Send(map[string]any{
			"id":    payload["id"],
			"error": "no template with that id",
		})
	})

	_, err := dispatcher.Call(ctx, "setTemplate", map[string]any{"templateId": "missing"})
	assert.NotEqual(t, err, nil)
	assert.Equal(t, true, strings.Contains(err.Error(), "setTemplate"))
	assert.Equal(t, true, strings.Contains(err.Error(), "no template with that id"))
}

func TestUnrecognizedEventIgnored(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local, remote := NewPipeChannel(ctx)
	dispatcher := newCommandDispatcher(ctx, local, testIdGenerator())
	defer dispatcher.Close()

	notified := make(chan *Event, 1)
	dispatcher.AddEventCallback(EventReady, func(event *Event) {
		notified <- event
	})

	remote.Send(map[string]any{"message": "someday-maybe-event"})
	// not an object member of the vocabulary, and not a reply: dropped
	remote.Send(map[string]any{"unrelated": true})
	remote.Send(map[string]any{"message": "ready"})

	event := <-notified
	assert.Equal(t, EventReady, event.Name)
	assert.Equal(t, nil, dispatcher.State())
}

func TestStateChangeCachesBeforeNotify(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local, remote := NewPipeChannel(ctx)
	dispatcher := newCommandDispatcher(ctx, local, testIdGenerator())
	defer dispatcher.Close()

	observed := make(chan *ElementState, 1)
	dispatcher.AddEventCallback(EventStateChange, func(event *Event) {
		// the cache must already hold the delivered tree
		observed <- dispatcher.State()
	})

	remote.Send(map[string]any{
		"message": "state-change",
		"state": map[string]any{
			"source": map[string]any{"id": "root"},
			"elements": []any{
				map[string]any{
					"source": map[string]any{"id": "a", "type": "text", "track": 1},
					"track":  1,
				},
			},
		},
	})

	state := <-observed
	assert.NotEqual(t, state, nil)
	assert.Equal(t, "root", state.Source.Id)
	assert.Equal(t, 1, len(state.Elements))
	assert.Equal(t, "a", state.Elements[0].Source.Id)
}

func TestCloseDrainsPendingCalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local, remote := NewPipeChannel(ctx)
	dispatcher := newCommandDispatcher(ctx, local, testIdGenerator())

	// the peer never replies
	remote.SetReceiveCallback(func(payload map[string]any) {})

	n := 3
	errs := make(chan error, n)
	for i := 0; i < n; i += 1 {
		go func() {
			_, err := dispatcher.Call(ctx, "play", nil)
			errs <- err
		}()
	}

	waitFor(t, func() bool {
		return dispatcher.pending.size() == n
	})
	dispatcher.Close()

	for i := 0; i < n; i += 1 {
		err := <-errs
		assert.NotEqual(t, err, nil)
		assert.Equal(t, true, strings.Contains(err.Error(), ErrChannelClosed.Error()))
	}

	// calls after disposal fail fast
	_, err := dispatcher.Call(ctx, "pause", nil)
	assert.NotEqual(t, err, nil)
}

func TestCallCanceledByCaller(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local, remote := NewPipeChannel(ctx)
	dispatcher := newCommandDispatcher(ctx, local, testIdGenerator())
	defer dispatcher.Close()

	remote.SetReceiveCallback(func(payload map[string]any) {})

	callCtx, callCancel := context.WithCancel(ctx)
	errs := make(chan error, 1)
	go func() {
		_, err := dispatcher.Call(callCtx, "play", nil)
		errs <- err
	}()

	waitFor(t, func() bool {
		return dispatcher.pending.size() == 1
	})
	callCancel()

	err := <-errs
	assert.NotEqual(t, err, nil)
	assert.Equal(t, true, strings.Contains(err.Error(), "play"))
	// the abandoned entry is removed, not leaked
	waitFor(t, func() bool {
		return dispatcher.pending.size() == 0
	})
}
