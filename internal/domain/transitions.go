package domain

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusApproved, OrderStatusRejected, OrderStatusCancelled, OrderStatusInProcess},
	OrderStatusInProcess: {OrderStatusApproved, OrderStatusRejected, OrderStatusCancelled},
}

// CanTransition reports whether an order may move from one status to another.
// Approved orders only leave through a reversal (refund or chargeback).
func CanTransition(from, to OrderStatus) bool {
	if IsReversal(from, to) {
		return true
	}
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsReversal reports whether the move undoes a prior approval.
func IsReversal(from, to OrderStatus) bool {
	return from == OrderStatusApproved && (to == OrderStatusRejected || to == OrderStatusCancelled)
}
