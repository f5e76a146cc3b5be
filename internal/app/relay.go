package app

import (
	"context"
	"sync/atomic"

	"github.com/hackgods/clinic-booking/internal/appointment"
)

// slotRelay breaks the construction cycle between the appointment service,
// which reports freed slots, and the waitlist engine, which looks
// appointments up when promoting.
type slotRelay struct {
	target atomic.Pointer[appointment.SlotReleaseHook]
}

func (r *slotRelay) set(h appointment.SlotReleaseHook) {
	r.target.Store(&h)
}

func (r *slotRelay) SlotReleased(ctx context.Context, slot appointment.FreedSlot) {
	if h := r.target.Load(); h != nil {
		(*h).SlotReleased(ctx, slot)
	}
}
