package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkrajcer/castroom/internal/core"
	"github.com/mkrajcer/castroom/internal/engine"
	"github.com/mkrajcer/castroom/internal/engine/enginetest"
)

type stubConn struct {
	open   bool
	frames []core.Frame
}

func (c *stubConn) TrySend(f core.Frame) error {
	c.frames = append(c.frames, f)
	return nil
}
func (c *stubConn) Open() bool { return c.open }
func (c *stubConn) Close()     { c.open = false }

func TestSetRoomRequiresSession(t *testing.T) {
	r := NewRegistry()
	router := enginetest.NewFakeRouter()

	err := r.SetRoom("ghost", "room1", router)
	assert.ErrorIs(t, err, ErrNoSession)

	r.Bind("s1", &stubConn{open: true})
	require.NoError(t, r.SetRoom("s1", "room1", router))

	roomID, got, ok := r.Room("s1")
	require.True(t, ok)
	assert.Equal(t, "room1", string(roomID))
	assert.Equal(t, router.Id(), got.Id())
}

func TestTransportRoles(t *testing.T) {
	r := NewRegistry()
	r.Bind("s1", &stubConn{open: true})
	router := enginetest.NewFakeRouter()

	sender, err := router.CreateWebRtcTransport(engine.ListenConfig{})
	require.NoError(t, err)
	receiver, err := router.CreateWebRtcTransport(engine.ListenConfig{})
	require.NoError(t, err)

	require.NoError(t, r.SetTransport("s1", true, sender))
	require.NoError(t, r.SetTransport("s1", false, receiver))

	// One transport per role.
	assert.ErrorIs(t, r.SetTransport("s1", true, sender), ErrTransportExists)
	assert.ErrorIs(t, r.SetTransport("s1", false, receiver), ErrTransportExists)

	got, ok := r.Transport("s1", true)
	require.True(t, ok)
	assert.Equal(t, sender.Id(), got.Id())
	got, ok = r.Transport("s1", false)
	require.True(t, ok)
	assert.Equal(t, receiver.Id(), got.Id())

	_, ok = r.Transport("missing", true)
	assert.False(t, ok)
}

func TestSingleProducerPerSession(t *testing.T) {
	r := NewRegistry()
	r.Bind("s1", &stubConn{open: true})

	p := enginetest.NewFakeProducer("video")
	require.NoError(t, r.SetProducer("s1", p))
	assert.ErrorIs(t, r.SetProducer("s1", enginetest.NewFakeProducer("video")), ErrProducerExists)

	got, ok := r.Producer("s1")
	require.True(t, ok)
	assert.Equal(t, p.Id(), got.Id())
}

func TestConsumerListDedupsByRemoteProducer(t *testing.T) {
	r := NewRegistry()
	r.Bind("s1", &stubConn{open: true})

	c1 := enginetest.NewFakeConsumer("prod-a", true)
	c2 := enginetest.NewFakeConsumer("prod-a", true)
	c3 := enginetest.NewFakeConsumer("prod-b", true)

	require.NoError(t, r.AddConsumer("s1", c1))
	assert.ErrorIs(t, r.AddConsumer("s1", c2), ErrAlreadyConsuming)
	require.NoError(t, r.AddConsumer("s1", c3))

	assert.Len(t, r.Consumers("s1"), 2)

	r.RemoveConsumer("s1", c1.Id())
	list := r.Consumers("s1")
	require.Len(t, list, 1)
	assert.Equal(t, c3.Id(), list[0].Id())
}

func TestRemoveReturnsResourcesAndRemaining(t *testing.T) {
	r := NewRegistry()
	router := enginetest.NewFakeRouter()
	for _, sid := range []core.SessionID{"a", "b", "c"} {
		r.Bind(sid, &stubConn{open: true})
		require.NoError(t, r.SetRoom(sid, "room1", router))
	}
	p := enginetest.NewFakeProducer("video")
	require.NoError(t, r.SetProducer("a", p))

	res, remaining := r.Remove("a")
	require.NotNil(t, res)
	assert.Equal(t, "room1", string(res.RoomID))
	assert.Equal(t, p.Id(), res.Producer.Id())
	assert.Equal(t, 2, remaining)

	// Idempotent: the session is gone.
	res, remaining = r.Remove("a")
	assert.Nil(t, res)
	assert.Zero(t, remaining)
}

func TestPeersScopedToRoom(t *testing.T) {
	r := NewRegistry()
	router := enginetest.NewFakeRouter()

	r.Bind("a", &stubConn{open: true})
	r.Bind("b", &stubConn{open: true})
	r.Bind("c", &stubConn{open: true})
	r.Bind("lobby", &stubConn{open: true}) // connected, never joined

	require.NoError(t, r.SetRoom("a", "room1", router))
	require.NoError(t, r.SetRoom("b", "room1", router))
	require.NoError(t, r.SetRoom("c", "room2", router))

	peers := r.Peers("room1", "a")
	require.Len(t, peers, 1)
	assert.Equal(t, "b", string(peers[0].SID))
}

func TestProducersOfAndRooms(t *testing.T) {
	r := NewRegistry()
	router := enginetest.NewFakeRouter()

	r.Bind("a", &stubConn{open: true})
	r.Bind("b", &stubConn{open: true})
	require.NoError(t, r.SetRoom("a", "room1", router))
	require.NoError(t, r.SetRoom("b", "room1", router))
	require.NoError(t, r.SetProducer("a", enginetest.NewFakeProducer("video")))

	assert.Len(t, r.ProducersOf("room1"), 1)
	assert.Empty(t, r.ProducersOf("room2"))

	rooms := r.Rooms()
	require.Len(t, rooms, 1)
	assert.Equal(t, "room1", string(rooms[0].ID))
	assert.Equal(t, 2, rooms[0].MemberCount)
}
