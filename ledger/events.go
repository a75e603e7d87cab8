package ledger

import "strconv"

const (
	EventTypeCreated           = "escrow.created"
	EventTypeFilled            = "escrow.filled"
	EventTypeCanceled          = "escrow.canceled"
	EventTypeReleased          = "escrow.released"
	EventTypeDisputed          = "escrow.disputed"
	EventTypeResolved          = "escrow.resolved"
	EventTypeEmergencyReleased = "escrow.emergency_released"
)

// Event is the canonical record of a committed transition.
type Event struct {
	Type       string
	Attributes map[string]string
}

// Emitter receives events after the transition they describe has committed
// and after the engine lock is released, so a slow emitter delays only the
// transition that produced the event. Failures are the emitter's to handle.
type Emitter interface {
	Emit(*Event)
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

func (NoopEmitter) Emit(*Event) {}

// NewCreatedEvent returns the canonical payload for a newly created agreement.
func NewCreatedEvent(a *Agreement) *Event { return newAgreementEvent(EventTypeCreated, a) }

// NewFilledEvent returns the payload emitted when the open slot is filled.
func NewFilledEvent(a *Agreement) *Event { return newAgreementEvent(EventTypeFilled, a) }

// NewCanceledEvent returns the payload emitted on creator cancellation.
func NewCanceledEvent(a *Agreement) *Event { return newAgreementEvent(EventTypeCanceled, a) }

// NewReleasedEvent returns the payload emitted when funds are disbursed.
func NewReleasedEvent(a *Agreement) *Event { return newAgreementEvent(EventTypeReleased, a) }

// NewDisputedEvent returns the payload emitted when the creator opens a dispute.
func NewDisputedEvent(a *Agreement) *Event { return newAgreementEvent(EventTypeDisputed, a) }

// NewResolvedEvent returns the payload emitted when a dispute is resolved.
func NewResolvedEvent(a *Agreement) *Event { return newAgreementEvent(EventTypeResolved, a) }

// NewEmergencyReleasedEvent returns the payload for a deadline-triggered
// permissionless release.
func NewEmergencyReleasedEvent(a *Agreement) *Event {
	return newAgreementEvent(EventTypeEmergencyReleased, a)
}

func newAgreementEvent(eventType string, a *Agreement) *Event {
	attrs := make(map[string]string)
	if a == nil {
		return &Event{Type: eventType, Attributes: attrs}
	}
	attrs["address"] = a.Address.Hex()
	attrs["creator"] = a.Creator.Hex()
	if a.Depositor != nil {
		attrs["depositor"] = a.Depositor.Hex()
	}
	if a.Amount != nil {
		attrs["amount"] = a.Amount.String()
	}
	attrs["status"] = a.Status.Name()
	attrs["networkId"] = a.NetworkID
	attrs["deadline"] = strconv.FormatInt(a.Deadline, 10)
	if a.ReleasedAmount != nil {
		attrs["releasedAmount"] = a.ReleasedAmount.String()
	}
	if a.ProposedAmount != nil {
		attrs["proposedAmount"] = a.ProposedAmount.String()
	}
	return &Event{Type: eventType, Attributes: attrs}
}
