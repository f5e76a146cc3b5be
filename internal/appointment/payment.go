package appointment

import (
	"context"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/tenancy"
)

// Quote is the payment service's answer for a booking.
type Quote struct {
	Required  bool
	Reference string
}

// PaymentGateway decides whether a booking needs payment capture and returns
// an opaque intent reference when it does.
type PaymentGateway interface {
	Quote(ctx context.Context, caller tenancy.Caller, req BookingRequest) (Quote, error)
}

// FreeOfCharge confirms every booking immediately.
type FreeOfCharge struct{}

func (FreeOfCharge) Quote(context.Context, tenancy.Caller, BookingRequest) (Quote, error) {
	return Quote{}, nil
}

// DeferredCapture parks every booking in pending-payment behind a locally
// minted intent reference; the payment callback confirms it later.
type DeferredCapture struct{}

func (DeferredCapture) Quote(context.Context, tenancy.Caller, BookingRequest) (Quote, error) {
	return Quote{Required: true, Reference: "pi_" + uuid.NewString()}, nil
}

func PaymentGatewayFor(required bool) PaymentGateway {
	if required {
		return DeferredCapture{}
	}
	return FreeOfCharge{}
}
