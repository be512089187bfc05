package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestElementIDsKeepOrder(t *testing.T) {
	ids := ElementIDs([]Element{{ID: "The Star"}, {ID: "3 of Cups"}, {ID: "The Star"}})
	assert.Equal(t, []string{"The Star", "3 of Cups", "The Star"}, ids)
	assert.Empty(t, ElementIDs(nil))
}

func TestReservationStateTerminal(t *testing.T) {
	assert.False(t, ReservationReserved.Terminal())
	assert.True(t, ReservationCommitted.Terminal())
	assert.True(t, ReservationReleased.Terminal())
}
