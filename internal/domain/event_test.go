package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainEvent_JSONRoundTrip(t *testing.T) {
	ticket := newTestTicket(t, "150", AvailabilityAvailable)
	require.NoError(t, ticket.UpdatePrice(MustPrice("99.99", "USD"), t0))
	ticket.AnnotatePending(MetaJobID, "job-1")

	for _, original := range ticket.PendingEvents() {
		data, err := json.Marshal(original)
		require.NoError(t, err)

		var decoded DomainEvent
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, original.EventID, decoded.EventID)
		assert.Equal(t, original.EventType, decoded.EventType)
		assert.Equal(t, original.Version, decoded.Version)
		assert.Equal(t, "job-1", decoded.Metadata[MetaJobID])
		assert.IsType(t, original.Payload, decoded.Payload)
	}
}

func TestDecodePayload_UnknownType(t *testing.T) {
	_, err := DecodePayload("ticket.teleported", []byte(`{}`))
	assert.True(t, errors.Is(err, ErrUnknownEventType))
}
