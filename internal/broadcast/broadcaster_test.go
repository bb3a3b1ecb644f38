package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"gridspace/internal/websocket"
	"gridspace/pkg/types"
)

// fakeConnection is an in-memory interfaces.Connection with a bounded buffer
type fakeConnection struct {
	id       string
	capacity int
	mu       sync.Mutex
	frames   []string
}

func newFakeConnection(id string, capacity int) *fakeConnection {
	return &fakeConnection{id: id, capacity: capacity}
}

func (f *fakeConnection) ID() string { return f.id }

func (f *fakeConnection) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) >= f.capacity {
		return websocket.ErrBufferFull
	}
	f.frames = append(f.frames, string(data))
	return nil
}

func (f *fakeConnection) WriteJSON(v interface{}) error { return nil }
func (f *fakeConnection) Close() error                  { return nil }

func (f *fakeConnection) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.frames...)
}

func setup(t *testing.T, conns ...*fakeConnection) (*Broadcaster, *websocket.Registry) {
	t.Helper()
	registry := websocket.NewRegistry()
	for _, c := range conns {
		if err := registry.Register(c); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	return NewBroadcaster(registry), registry
}

// Functional Validation Tests - Publish

func TestBroadcaster_PublishReachesOnlyRoomSubscribers(t *testing.T) {
	alice := newFakeConnection("alice", 10)
	bob := newFakeConnection("bob", 10)
	carol := newFakeConnection("carol", 10)
	b, _ := setup(t, alice, bob, carol)

	b.Subscribe("r1", "alice")
	b.Subscribe("r1", "bob")
	b.Subscribe("r2", "carol")

	result := b.Publish("r1", types.Event{Type: types.EventUserJoined, Data: types.PresenceEvent{Username: "bob", RoomID: "r1"}})

	if result.SentTo != 2 || len(result.Dropped) != 0 {
		t.Errorf("Expected delivery to 2, got %+v", result)
	}
	if len(alice.received()) != 1 || len(bob.received()) != 1 {
		t.Error("Both r1 subscribers should receive the event")
	}
	if len(carol.received()) != 0 {
		t.Error("r2 subscriber must not receive r1 events")
	}

	var frame map[string]interface{}
	if err := json.Unmarshal([]byte(alice.received()[0]), &frame); err != nil {
		t.Fatalf("Invalid frame: %v", err)
	}
	if frame["type"] != types.EventUserJoined {
		t.Errorf("Unexpected frame %v", frame)
	}
}

func TestBroadcaster_SlowSubscriberDoesNotStallOthers(t *testing.T) {
	slow := newFakeConnection("slow", 0)
	fast := newFakeConnection("fast", 10)
	b, _ := setup(t, slow, fast)
	b.Subscribe("r1", "slow")
	b.Subscribe("r1", "fast")

	result := b.Publish("r1", types.Event{Type: types.EventGridUpdated, Data: types.GridSnapshot{RoomID: "r1", Cells: []types.Cell{}}})

	if result.SentTo != 1 || len(result.Dropped) != 1 || result.Dropped[0] != "slow" {
		t.Errorf("Expected slow dropped and fast delivered, got %+v", result)
	}
	if len(fast.received()) != 1 {
		t.Error("Fast subscriber should still receive the frame")
	}
}

func TestBroadcaster_UnsubscribeStopsDelivery(t *testing.T) {
	alice := newFakeConnection("alice", 10)
	b, _ := setup(t, alice)
	b.Subscribe("r1", "alice")
	b.Unsubscribe("r1", "alice")

	if result := b.Publish("r1", types.Event{Type: types.EventRoomUpdated}); result.SentTo != 0 {
		t.Errorf("Expected no delivery, got %+v", result)
	}
}

func TestBroadcaster_PublishToEmptyRoom(t *testing.T) {
	b, _ := setup(t)

	if result := b.Publish("nobody", types.Event{Type: types.EventRoomUpdated}); result.SentTo != 0 || result.Dropped != nil {
		t.Errorf("Expected empty result, got %+v", result)
	}
}

func TestBroadcaster_PerRoomOrdering(t *testing.T) {
	alice := newFakeConnection("alice", 1000)
	b, _ := setup(t, alice)
	b.Subscribe("r1", "alice")

	for i := 0; i < 100; i++ {
		b.Publish("r1", types.Event{Type: "seq", Data: i})
	}

	for i, frame := range alice.received() {
		want := fmt.Sprintf(`{"type":"seq","data":%d}`, i)
		if frame != want {
			t.Fatalf("Frame %d out of order: %s", i, frame)
		}
	}
}

func TestBroadcaster_ConcurrentRoomsDoNotInterleaveWithinRoom(t *testing.T) {
	conns := []*fakeConnection{newFakeConnection("a", 1000), newFakeConnection("b", 1000)}
	b, _ := setup(t, conns...)
	b.Subscribe("r1", "a")
	b.Subscribe("r2", "b")

	var wg sync.WaitGroup
	for _, room := range []string{"r1", "r2"} {
		wg.Add(1)
		go func(room string) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				b.Publish(room, types.Event{Type: room, Data: i})
			}
		}(room)
	}
	wg.Wait()

	for _, c := range conns {
		frames := c.received()
		if len(frames) != 200 {
			t.Errorf("Expected 200 frames for %s, got %d", c.id, len(frames))
		}
	}
}

// Functional Validation Tests - SendTo

func TestBroadcaster_SendTo(t *testing.T) {
	alice := newFakeConnection("alice", 10)
	b, _ := setup(t, alice)

	if err := b.SendTo("alice", types.Event{Type: types.EventConnected, Data: types.ConnectedEvent{ConnectionID: "alice"}}); err != nil {
		t.Fatalf("SendTo failed: %v", err)
	}
	if got := alice.received(); len(got) != 1 || got[0] != `{"type":"connected","data":{"connectionId":"alice"}}` {
		t.Errorf("Unexpected frames %v", got)
	}

	if err := b.SendTo("ghost", types.Event{Type: types.EventConnected}); !errors.Is(err, ErrRecipientNotConnected) {
		t.Errorf("Expected ErrRecipientNotConnected, got %v", err)
	}
}

func TestBroadcaster_SendToUnencodable(t *testing.T) {
	alice := newFakeConnection("alice", 10)
	b, _ := setup(t, alice)

	if err := b.SendTo("alice", types.Event{Type: "bad", Data: make(chan int)}); !errors.Is(err, ErrEncodeFailed) {
		t.Errorf("Expected ErrEncodeFailed, got %v", err)
	}
}
