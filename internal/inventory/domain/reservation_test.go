package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/order-inventory-choreography/pkg/messages"
)

func TestConsolidateMergesAndSorts(t *testing.T) {
	lines, err := Consolidate([]Line{{ProductID: 9, Quantity: 1}, {ProductID: 2, Quantity: 3}, {ProductID: 9, Quantity: 4}})
	require.NoError(t, err)
	assert.Equal(t, []Line{{ProductID: 2, Quantity: 3}, {ProductID: 9, Quantity: 5}}, lines)
}

func TestConsolidateRejectsBadLines(t *testing.T) {
	_, err := Consolidate(nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = Consolidate([]Line{{ProductID: 1, Quantity: 0}})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestConsolidatedQuantityAboveStockRangeIsAShortage(t *testing.T) {
	lines, err := Consolidate([]Line{{ProductID: 1, Quantity: math.MaxInt32}, {ProductID: 1, Quantity: 1}})
	require.NoError(t, err)
	require.Equal(t, []Line{{ProductID: 1, Quantity: math.MaxInt32 + 1}}, lines)

	current := map[int64]Product{1: {ID: 1, Name: "Mouse", Stock: math.MaxInt32}}
	shortages := Check(lines, current)
	require.Len(t, shortages, 1)
	assert.Equal(t, int64(math.MaxInt32+1), shortages[0].Requested)
	assert.Equal(t, int32(math.MaxInt32), shortages[0].Available)
}

func TestCheckReportsShortAndMissing(t *testing.T) {
	current := map[int64]Product{
		1: {ID: 1, Name: "Mouse", Stock: 5},
		2: {ID: 2, Name: "Monitor", Stock: 10},
	}
	shortages := Check([]Line{{1, 2}, {2, 100}, {3, 1}}, current)

	require.Len(t, shortages, 2)
	assert.Equal(t, Shortage{ProductID: 2, Name: "Monitor", Requested: 100, Available: 10}, shortages[0])
	assert.True(t, shortages[1].Missing)
	assert.Empty(t, Check([]Line{{1, 5}}, current))
}

func TestDecideBuildsOutcome(t *testing.T) {
	ok := Decide(7, []Line{{1, 1}}, nil, time.Now())
	assert.Equal(t, messages.ReservationOutcome{OrderID: 7, Status: messages.StatusConfirmed, Message: messages.MessageConfirmed}, ok.Outcome())

	failed := Decide(8, []Line{{3, 1}}, []Shortage{{ProductID: 3, Requested: 1, Missing: true}}, time.Now())
	out := failed.Outcome()
	assert.Equal(t, messages.StatusFailedStock, out.Status)
	assert.Contains(t, out.Message, messages.MessageInsufficient)
	assert.Contains(t, out.Message, "product 3 not found")
}
