package wsmarshaller

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/alert-relay-service/internal/domain/model"
)

func TestMarshalAlert(t *testing.T) {
	ev := model.NewAlertEvent("Dog escaped", "Backyard", time.Now())

	data, err := MarshalAlert(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"alert","message":"Dog escaped","location":"Backyard"}`, string(data))
}

func TestMarshalBrokerMessage_PayloadIsVerbatimText(t *testing.T) {
	payload := `{"message":"Dog escaped","location":"Backyard","timestamp":"2024-05-01T08:30:00.000Z"}`
	msg := model.NewBrokerMessage("corgidev/pet/alert", []byte(payload), time.Now(), false)

	data, err := MarshalBrokerMessage(msg)
	require.NoError(t, err)

	var frame BridgeFrame
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, "corgidev/pet/alert", frame.Topic)
	assert.Equal(t, payload, frame.Message)
}

func TestMarshalBrokerMessage_NonJSONPayload(t *testing.T) {
	msg := model.NewBrokerMessage("corgidev/pet/feed", []byte("bowl empty"), time.Now(), false)

	data, err := MarshalBrokerMessage(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"topic":"corgidev/pet/feed","message":"bowl empty"}`, string(data))
}
