package runtime

import (
	"errors"

	"kerneld/internal/kernel"
)

// ErrCallTimeout is returned when Call's step budget is exhausted before
// a reply arrives — spec §4.6's "budget exhaustion yields a failure
// result without blocking the caller indefinitely."
var ErrCallTimeout = errors.New("runtime: call exhausted its step budget")

// DefaultCallBudget bounds how many scheduler steps Call will pump while
// waiting for a reply.
const DefaultCallBudget = 10_000

// Call implements spec §4.6's synchronous lookup helper: it spawns an
// ephemeral waiter actor, sends it to dest with msgType/payload, then
// pumps Step until the waiter's behavior observes a reply or the step
// budget runs out. It must only be called from outside a running
// Behavior (e.g. cmd/kerneld bootstrap or a test) since pumping the
// scheduler while already inside Step would reenter it.
func (rt *Runtime) Call(dest kernel.ActorID, msgType uint32, payload []byte, budget int) (kernel.Message, error) {
	if budget <= 0 {
		budget = DefaultCallBudget
	}

	type result struct {
		msg kernel.Message
		got bool
	}
	res := &result{}

	waiterBehavior := func(ctx *kernel.Context, msg kernel.Message) bool {
		res.msg = msg
		res.got = true
		ctx.Stop(ctx.Self())
		return false
	}

	waiter, err := rt.Spawn(kernel.Invalid, waiterBehavior, nil, nil, 4)
	if err != nil {
		return kernel.Message{}, err
	}
	defer rt.Stop(waiter)

	if err := rt.Send(waiter, dest, msgType, payload); err != nil {
		return kernel.Message{}, err
	}

	for i := 0; i < budget; i++ {
		if !rt.Step() {
			rt.cleanupStopped()
			if res.got {
				return res.msg, nil
			}
			if !rt.hasIOSources() {
				return kernel.Message{}, ErrCallTimeout
			}
			rt.poll(0)
			continue
		}
		rt.cleanupStopped()
		if res.got {
			return res.msg, nil
		}
	}
	return kernel.Message{}, ErrCallTimeout
}
