package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/hackgods/clinic-booking/internal/appointment"
)

type recordingHook struct {
	slots []appointment.FreedSlot
}

func (h *recordingHook) SlotReleased(_ context.Context, slot appointment.FreedSlot) {
	h.slots = append(h.slots, slot)
}

func TestSlotRelayForwardsOnceTargetIsSet(t *testing.T) {
	relay := &slotRelay{}
	slot := appointment.FreedSlot{TenantID: uuid.New(), DoctorID: uuid.New(), ScheduledAt: time.Now()}

	relay.SlotReleased(context.Background(), slot)

	hook := &recordingHook{}
	relay.set(hook)
	relay.SlotReleased(context.Background(), slot)

	assert.Equal(t, []appointment.FreedSlot{slot}, hook.slots)
}
