package notify

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingInvalidator struct {
	ids []string
}

func (r *recordingInvalidator) InvalidateByEntity(id string) int {
	r.ids = append(r.ids, id)
	return 1
}

func newTestBus() *Bus {
	return &Bus{
		subject: DefaultSubject,
		origin:  "self",
		logger:  slog.Default(),
	}
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestHandle_AppliesPeerInvalidations(t *testing.T) {
	bus := newTestBus()
	inv := &recordingInvalidator{}

	payload, err := json.Marshal(message{IDs: []string{"s1", "m1"}, Origin: "peer"})
	require.NoError(t, err)

	bus.handle(payload, inv)
	assert.Equal(t, []string{"s1", "m1"}, inv.ids)
}

func TestHandle_SkipsOwnOrigin(t *testing.T) {
	bus := newTestBus()
	inv := &recordingInvalidator{}

	payload, err := json.Marshal(message{IDs: []string{"s1"}, Origin: "self"})
	require.NoError(t, err)

	bus.handle(payload, inv)
	assert.Empty(t, inv.ids)
}

func TestHandle_IgnoresMalformedPayload(t *testing.T) {
	bus := newTestBus()
	inv := &recordingInvalidator{}

	bus.handle([]byte("not json"), inv)
	assert.Empty(t, inv.ids)
}

func TestMessageWireShape(t *testing.T) {
	payload, err := json.Marshal(message{IDs: []string{"a"}, Origin: "o"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ids":["a"],"origin":"o"}`, string(payload))
}
