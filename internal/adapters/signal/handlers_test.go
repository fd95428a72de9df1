package signal

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkrajcer/castroom/internal/app"
	"github.com/mkrajcer/castroom/internal/app/orch"
	"github.com/mkrajcer/castroom/internal/core"
	"github.com/mkrajcer/castroom/internal/engine"
	"github.com/mkrajcer/castroom/internal/engine/enginetest"
)

func newTestController() *Controller {
	f := &enginetest.Factory{}
	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Engine:   engine.New(engine.Config{WorkerCount: 1}, f.New),
	}
	return NewController(o, 0)
}

func connect(ctl *Controller, sid core.SessionID) *wsConn {
	c := &wsConn{send: make(chan core.Frame, 16)}
	ctl.Orch.Connect(sid, c)
	return c
}

func send(t *testing.T, ctl *Controller, sid core.SessionID, c *wsConn, event, data string) bool {
	t.Helper()
	frame := fmt.Sprintf(`{"event":%q,"data":%s}`, event, data)
	return ctl.handleMessage(sid, c, []byte(frame))
}

func recv(t *testing.T, c *wsConn) (string, json.RawMessage) {
	t.Helper()
	select {
	case f := <-c.send:
		var env struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal(f, &env))
		return env.Event, env.Data
	default:
		t.Fatal("no frame queued")
		return "", nil
	}
}

func requireNoFrame(t *testing.T, c *wsConn) {
	t.Helper()
	select {
	case f := <-c.send:
		t.Fatalf("unexpected frame: %s", f)
	default:
	}
}

func TestSignalingFlowTwoClients(t *testing.T) {
	ctl := newTestController()
	connA := connect(ctl, "A")
	connB := connect(ctl, "B")

	// A joins and sets up its sender side.
	send(t, ctl, "A", connA, "join-room", `{"roomId":"room1"}`)
	event, _ := recv(t, connA)
	assert.Equal(t, "router-rtp-capabilities", event)

	send(t, ctl, "A", connA, "create-transport", `{"sender":true}`)
	event, data := recv(t, connA)
	assert.Equal(t, "transport-created", event)
	var created transportCreatedData
	require.NoError(t, json.Unmarshal(data, &created))
	assert.True(t, created.Sender)
	assert.NotEmpty(t, created.Params.ID)

	send(t, ctl, "A", connA, "connect-transport", `{"sender":true,"dtlsParameters":{}}`)
	requireNoFrame(t, connA)

	send(t, ctl, "A", connA, "produce-media", `{"kind":"video","rtpParameters":{}}`)
	event, data = recv(t, connA)
	assert.Equal(t, "producing-media", event)
	var producing producingMediaData
	require.NoError(t, json.Unmarshal(data, &producing))
	assert.NotEmpty(t, producing.ID)

	// B joins and sets up its receiver side.
	send(t, ctl, "B", connB, "join-room", `{"roomId":"room1"}`)
	recv(t, connB)

	send(t, ctl, "B", connB, "create-transport", `{"sender":false}`)
	event, _ = recv(t, connB)
	assert.Equal(t, "transport-created", event)
	event, data = recv(t, connB)
	assert.Equal(t, "existing-clients-list", event)
	var existing existingClientsData
	require.NoError(t, json.Unmarshal(data, &existing))
	assert.Equal(t, []string{"A"}, existing.ExistingClients)

	send(t, ctl, "B", connB, "connect-transport", `{"sender":false,"dtlsParameters":{}}`)
	requireNoFrame(t, connB)

	// B consumes A's producer, addressed by session id.
	send(t, ctl, "B", connB, "consume-media", `{"rtpCapabilities":{},"producerId":"A"}`)
	event, data = recv(t, connB)
	assert.Equal(t, "consuming-media", event)
	var consuming consumingMediaData
	require.NoError(t, json.Unmarshal(data, &consuming))
	assert.Equal(t, producing.ID, consuming.Params.ProducerID)
	assert.NotEmpty(t, consuming.Params.ID)

	send(t, ctl, "B", connB, "resume-consuming-media", `{}`)
	requireNoFrame(t, connB)

	// When B later opens its own sender transport, A hears about it.
	send(t, ctl, "B", connB, "create-transport", `{"sender":true}`)
	recv(t, connB)
	send(t, ctl, "B", connB, "connect-transport", `{"sender":true,"dtlsParameters":{}}`)
	event, data = recv(t, connA)
	assert.Equal(t, "new-producer-transport-created", event)
	var announced newProducerTransportData
	require.NoError(t, json.Unmarshal(data, &announced))
	assert.Equal(t, "B", announced.NewClientID)
}

func TestTeardownBroadcastsDisconnect(t *testing.T) {
	ctl := newTestController()
	connA := connect(ctl, "A")
	connB := connect(ctl, "B")
	connOther := connect(ctl, "other")

	send(t, ctl, "A", connA, "join-room", `{"roomId":"room1"}`)
	recv(t, connA)
	send(t, ctl, "B", connB, "join-room", `{"roomId":"room1"}`)
	recv(t, connB)
	send(t, ctl, "other", connOther, "join-room", `{"roomId":"room2"}`)
	recv(t, connOther)

	send(t, ctl, "A", connA, "create-transport", `{"sender":true}`)
	recv(t, connA)
	send(t, ctl, "A", connA, "produce-media", `{"kind":"video","rtpParameters":{}}`)
	event, data := recv(t, connA)
	require.Equal(t, "producing-media", event)
	var producing producingMediaData
	require.NoError(t, json.Unmarshal(data, &producing))

	ctl.teardown("A", connA)

	event, data = recv(t, connB)
	assert.Equal(t, "disconnect", event)
	var gone disconnectData
	require.NoError(t, json.Unmarshal(data, &gone))
	assert.Equal(t, "A", gone.UserID)
	assert.Equal(t, producing.ID, gone.DisconnectedClient)

	// Scoped to the departed session's room.
	requireNoFrame(t, connOther)

	// Repeated teardown is a no-op.
	ctl.teardown("A", connA)
	requireNoFrame(t, connB)
}

func TestTeardownWithoutProducerStaysQuiet(t *testing.T) {
	ctl := newTestController()
	connA := connect(ctl, "A")
	connB := connect(ctl, "B")

	send(t, ctl, "A", connA, "join-room", `{"roomId":"room1"}`)
	recv(t, connA)
	send(t, ctl, "B", connB, "join-room", `{"roomId":"room1"}`)
	recv(t, connB)

	ctl.teardown("A", connA)
	requireNoFrame(t, connB)
}

func TestErrorEvents(t *testing.T) {
	ctl := newTestController()
	conn := connect(ctl, "A")

	// Operating before joining a room.
	send(t, ctl, "A", conn, "create-transport", `{"sender":true}`)
	event, data := recv(t, conn)
	require.Equal(t, "error", event)
	var e errorData
	require.NoError(t, json.Unmarshal(data, &e))
	assert.Equal(t, "not-in-room", e.Code)

	send(t, ctl, "A", conn, "consume-media", `{"rtpCapabilities":{},"producerId":"B"}`)
	_, data = recv(t, conn)
	require.NoError(t, json.Unmarshal(data, &e))
	assert.Equal(t, "not-in-room", e.Code)

	// Malformed frame.
	ctl.handleMessage("A", conn, []byte("not json"))
	_, data = recv(t, conn)
	require.NoError(t, json.Unmarshal(data, &e))
	assert.Equal(t, "bad-request", e.Code)

	// Unknown event.
	send(t, ctl, "A", conn, "launch-missiles", `{}`)
	_, data = recv(t, conn)
	require.NoError(t, json.Unmarshal(data, &e))
	assert.Equal(t, "bad-request", e.Code)
}

func TestConsumeUnknownProducerCode(t *testing.T) {
	ctl := newTestController()
	conn := connect(ctl, "A")

	send(t, ctl, "A", conn, "join-room", `{"roomId":"room1"}`)
	recv(t, conn)
	send(t, ctl, "A", conn, "consume-media", `{"rtpCapabilities":{},"producerId":"ghost"}`)
	event, data := recv(t, conn)
	require.Equal(t, "error", event)
	var e errorData
	require.NoError(t, json.Unmarshal(data, &e))
	assert.Equal(t, "no-producer", e.Code)
}

func TestDisconnectEventStopsReadLoop(t *testing.T) {
	ctl := newTestController()
	conn := connect(ctl, "A")

	done := send(t, ctl, "A", conn, "disconnect", `{}`)
	assert.True(t, done)
}

func TestInboundRateLimit(t *testing.T) {
	ctl := newTestController()
	ctl.limiter = newMessageLimiter(2, time.Minute)
	conn := connect(ctl, "A")

	send(t, ctl, "A", conn, "join-room", `{"roomId":"room1"}`)
	recv(t, conn)
	send(t, ctl, "A", conn, "resume-consuming-media", `{}`)

	send(t, ctl, "A", conn, "create-transport", `{"sender":true}`)
	event, data := recv(t, conn)
	require.Equal(t, "error", event)
	var e errorData
	require.NoError(t, json.Unmarshal(data, &e))
	assert.Equal(t, "rate-limited", e.Code)

	// Further flooding is dropped without an error frame per message,
	// so the send queue is not filled by the limiter itself.
	send(t, ctl, "A", conn, "create-transport", `{"sender":true}`)
	requireNoFrame(t, conn)

	// History clears with the session.
	ctl.limiter.Forget("A")
	send(t, ctl, "A", conn, "create-transport", `{"sender":true}`)
	event, _ = recv(t, conn)
	assert.Equal(t, "transport-created", event)
}
