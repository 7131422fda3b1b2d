package scripting

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kittclouds/kiln/internal/errs"
	"github.com/kittclouds/kiln/internal/eventbus"
)

// InteractionRequestPayload is published onto the bus when a script asks
// the user something; a client (CLI, UI) is expected to answer with
// Resolve via the same correlation id.
type InteractionRequestPayload struct {
	ID     string
	Prompt string
}

// interactionRegistry pairs InteractionRequested publishes with the
// answer later delivered through Runtime.Resolve, by correlation id,
// mirroring the
// process-wide correlation-id-keyed oneshot map C12's tool executor
// formalizes for every interactive tool (spec §4.12).
type interactionRegistry struct {
	mu      sync.Mutex
	waiters map[string]chan string
}

func newInteractionRegistry() *interactionRegistry {
	return &interactionRegistry{waiters: make(map[string]chan string)}
}

func (r *interactionRegistry) ask(bus *eventbus.Bus, prompt string, timeout time.Duration) (string, error) {
	id := uuid.NewString()
	ch := make(chan string, 1)
	r.mu.Lock()
	r.waiters[id] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.waiters, id)
		r.mu.Unlock()
	}()

	bus.Publish(context.Background(), eventbus.Event{
		Kind:    eventbus.InteractionRequested,
		Payload: InteractionRequestPayload{ID: id, Prompt: prompt},
	})

	select {
	case answer := <-ch:
		return answer, nil
	case <-time.After(timeout):
		return "", errs.Interaction(errs.KindInteractTimeout, "no response to: "+prompt)
	}
}

// Resolve delivers an answer for a pending ask. It is a no-op if id is
// unknown (request already timed out or was never outstanding). A request
// that is never resolved completes with a KindInteractTimeout error once
// its timeout elapses; there is no separate cancel path.
func (r *interactionRegistry) Resolve(id, answer string) {
	r.mu.Lock()
	ch, ok := r.waiters[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- answer:
	default:
	}
}

// Resolve delivers answer for a pending popup/interaction ask issued by
// any script running on this Runtime.
func (r *Runtime) Resolve(id, answer string) {
	r.interactions.Resolve(id, answer)
}
