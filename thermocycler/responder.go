//go:build linux

package thermocycler

import (
	"context"
	"sync"

	"go.viam.com/rdk/logging"

	"github.com/viam-modules/thermocycler-motion/motors"
)

// waiters hands each response to the DoCommand call waiting on its ID.
type waiters struct {
	mu      sync.Mutex
	next    motors.ID
	pending map[motors.ID]chan motors.Response
	logger  logging.Logger
}

func newWaiters(logger logging.Logger) *waiters {
	return &waiters{pending: map[motors.ID]chan motors.Response{}, logger: logger}
}

// add allocates an ID and the channel its response will arrive on.
func (w *waiters) add() (motors.ID, <-chan motors.Response) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next++
	if w.next == motors.InvalidID {
		w.next++
	}
	ch := make(chan motors.Response, 1)
	w.pending[w.next] = ch
	return w.next, ch
}

func (w *waiters) remove(id motors.ID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pending, id)
}

// wait blocks until the response for id arrives or ctx is done.
func (w *waiters) wait(ctx context.Context, id motors.ID, ch <-chan motors.Response) (motors.Response, error) {
	defer w.remove(id)
	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Respond implements motors.Responder.
func (w *waiters) Respond(resp motors.Response) {
	w.mu.Lock()
	ch, ok := w.pending[resp.RespondingTo()]
	delete(w.pending, resp.RespondingTo())
	w.mu.Unlock()
	if !ok {
		w.logger.Debugf("no caller waiting for response %d (%T)", resp.RespondingTo(), resp)
		return
	}
	ch <- resp
}
