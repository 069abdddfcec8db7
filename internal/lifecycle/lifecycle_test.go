package lifecycle

import (
	"testing"

	"github.com/safar/souk/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestForwardPath(t *testing.T) {
	assert.NoError(t, CanTransition(models.OrderStatusPending, false, models.OrderStatusConfirmed))
	assert.NoError(t, CanTransition(models.OrderStatusConfirmed, false, models.OrderStatusShipped))
	assert.NoError(t, CanTransition(models.OrderStatusShipped, false, models.OrderStatusDelivered))
}

func TestSkippingOrGoingBackIsRejected(t *testing.T) {
	var tErr *models.TransitionError
	assert.ErrorAs(t, CanTransition(models.OrderStatusPending, false, models.OrderStatusShipped), &tErr)
	assert.ErrorAs(t, CanTransition(models.OrderStatusShipped, false, models.OrderStatusConfirmed), &tErr)
	assert.ErrorAs(t, CanTransition(models.OrderStatusConfirmed, false, models.OrderStatusConfirmed), &tErr)
}

func TestCancelFromNonTerminal(t *testing.T) {
	for _, from := range []string{models.OrderStatusPending, models.OrderStatusConfirmed, models.OrderStatusShipped} {
		assert.NoError(t, CanTransition(from, false, models.OrderStatusCancelled), from)
	}
	assert.Error(t, CanTransition(models.OrderStatusDelivered, false, models.OrderStatusCancelled))
	assert.Error(t, CanTransition(models.OrderStatusCancelled, false, models.OrderStatusCancelled))
	assert.True(t, RestocksOnTransition(models.OrderStatusCancelled))
	assert.False(t, RestocksOnTransition(models.OrderStatusShipped))
}

func TestUnknownTarget(t *testing.T) {
	var vErr *models.ValidationError
	assert.ErrorAs(t, CanTransition(models.OrderStatusPending, false, "lost"), &vErr)
	assert.ErrorAs(t, CanTransition(models.OrderStatusConfirmed, false, models.OrderStatusPending), &vErr)
}

func TestReturnOnlyFromDeliveredAndOneWay(t *testing.T) {
	assert.NoError(t, CanRequestReturn(models.OrderStatusDelivered, false))
	assert.Error(t, CanRequestReturn(models.OrderStatusShipped, false))
	assert.Error(t, CanRequestReturn(models.OrderStatusDelivered, true))

	for _, to := range []string{models.OrderStatusCancelled, models.OrderStatusDelivered} {
		assert.Error(t, CanTransition(models.OrderStatusDelivered, true, to))
	}
}
