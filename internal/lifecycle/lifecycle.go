// Package lifecycle holds the order status machine:
//
//	pending -> confirmed -> shipped -> delivered
//
// cancelled is reachable from every status before delivered. A return can
// be requested once an order is delivered; the flag is never cleared and
// freezes the status.
package lifecycle

import (
	"github.com/safar/souk/internal/models"
)

var next = map[string]string{
	models.OrderStatusPending:   models.OrderStatusConfirmed,
	models.OrderStatusConfirmed: models.OrderStatusShipped,
	models.OrderStatusShipped:   models.OrderStatusDelivered,
}

func Valid(status string) bool {
	switch status {
	case models.OrderStatusPending, models.OrderStatusConfirmed, models.OrderStatusShipped,
		models.OrderStatusDelivered, models.OrderStatusCancelled:
		return true
	}
	return false
}

func Terminal(status string) bool {
	return status == models.OrderStatusDelivered || status == models.OrderStatusCancelled
}

// CanTransition reports whether an order in from, with the given return
// flag, may move to to.
func CanTransition(from string, returnRequested bool, to string) error {
	if !Valid(to) || to == models.OrderStatusPending {
		return models.Invalid("status", "unknown target status %q", to)
	}
	if returnRequested || Terminal(from) {
		return &models.TransitionError{From: from, To: to}
	}
	if to == models.OrderStatusCancelled {
		return nil
	}
	if next[from] != to {
		return &models.TransitionError{From: from, To: to}
	}
	return nil
}

// CanRequestReturn reports whether a return may be requested.
func CanRequestReturn(status string, returnRequested bool) error {
	if status != models.OrderStatusDelivered || returnRequested {
		return &models.TransitionError{From: status, To: "return_requested"}
	}
	return nil
}

// RestocksOnTransition reports whether moving to to gives the order's units
// back to inventory.
func RestocksOnTransition(to string) bool {
	return to == models.OrderStatusCancelled
}
