package messages

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestWireFieldNames(t *testing.T) {
	b, err := json.Marshal(ReservationRequest{OrderID: 7, Items: []ReservationItem{{ProductID: 3, Quantity: 2}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"orderId":7,"items":[{"productId":3,"quantity":2}]}`, string(b))
}

func TestOutcomeWireFieldNames(t *testing.T) {
	b, err := json.Marshal(ReservationOutcome{OrderID: 7, Status: StatusFailedStock, Message: "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"orderId":7,"status":"FALHA_ESTOQUE","message":"x"}`, string(b))
}

func TestDecodeRequestRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"not json":      `{`,
		"no order id":   `{"items":[{"productId":1,"quantity":1}]}`,
		"no items":      `{"orderId":1,"items":[]}`,
		"zero quantity": `{"orderId":1,"items":[{"productId":1,"quantity":0}]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeRequest([]byte(raw))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeOutcome(t *testing.T) {
	o, err := DecodeOutcome([]byte(`{"orderId":9,"status":"CONFIRMADO","message":"ok"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, o.Status)

	_, err = DecodeOutcome([]byte(`{"orderId":9,"status":"MAYBE"}`))
	assert.ErrorIs(t, err, ErrMalformed)
}
