package order

// Status is the shipment dimension of an order's lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// PaymentStatus is the payment dimension, tracked independently of shipment.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// statusTransitions is the explicit adjacency map for the shipment dimension.
// Forward skips are deliberately legal (a pending order may ship directly);
// backward moves never are. Cancellation is only reachable from pending and
// confirmed. delivered and cancelled are terminal.
var statusTransitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusDelivered},
	StatusShipped:    {StatusDelivered},
	StatusDelivered:  {},
	StatusCancelled:  {},
}

// paymentTransitions is the adjacency map for the payment dimension. A failed
// payment may be retried; refunded is terminal.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:  {PaymentStatusPaid, PaymentStatusFailed},
	PaymentStatusPaid:     {PaymentStatusRefunded},
	PaymentStatusFailed:   {PaymentStatusPending, PaymentStatusPaid},
	PaymentStatusRefunded: {},
}

// IsValid reports whether s is a known shipment status.
func (s Status) IsValid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// IsTerminal reports whether no further shipment transition is legal.
func (s Status) IsTerminal() bool {
	return s.IsValid() && len(statusTransitions[s]) == 0
}

// CanTransitionTo reports whether the shipment status may move to target.
func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range statusTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Cancellable reports whether an order in this status may still be cancelled.
func (s Status) Cancellable() bool {
	return s.CanTransitionTo(StatusCancelled)
}

// IsValid reports whether s is a known payment status.
func (s PaymentStatus) IsValid() bool {
	_, ok := paymentTransitions[s]
	return ok
}

// CanTransitionTo reports whether the payment status may move to target.
func (s PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	for _, t := range paymentTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// HistoryLabel returns the audit-trail label for a payment transition,
// prefixed to disambiguate it from shipment labels in the shared table.
func (s PaymentStatus) HistoryLabel() string {
	return "payment_" + string(s)
}
