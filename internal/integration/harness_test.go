package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"gridspace/internal/app"
	"gridspace/internal/config"
	"gridspace/pkg/types"
)

// testServer runs the full application behind httptest
type testServer struct {
	app *app.Application
	srv *httptest.Server
	URL string
}

func startServer(t *testing.T, mutate ...func(cfg *config.Config)) *testServer {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Database.Name = "integration-" + uuid.NewString()
	for _, m := range mutate {
		m(cfg)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	if err := application.StartHub(context.Background()); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}

	srv := httptest.NewServer(application.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
		srv.Close()
	})

	return &testServer{app: application, srv: srv, URL: srv.URL}
}

// connect dials a new client and closes it at test end
func (s *testServer) connect(t *testing.T, name string) *TestClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := NewTestClient(name, s.URL)
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("%s failed to connect: %v", name, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// do issues a REST request and decodes the response into out when non-nil
func (s *testServer) do(t *testing.T, method, path string, body interface{}, out interface{}) int {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, s.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Decode %s %s failed: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (s *testServer) createRoom(t *testing.T, name string) *types.Room {
	t.Helper()
	var room types.Room
	if code := s.do(t, "POST", "/rooms", map[string]string{"name": name}, &room); code != http.StatusCreated {
		t.Fatalf("Create room returned %d", code)
	}
	return &room
}

func (s *testServer) grid(t *testing.T, roomID string) []types.Cell {
	t.Helper()
	var cells []types.Cell
	s.do(t, "GET", "/grid/"+roomID, nil, &cells)
	return cells
}

func (s *testServer) room(t *testing.T, roomID string) *types.Room {
	t.Helper()
	var room types.Room
	s.do(t, "GET", "/rooms/"+roomID, nil, &room)
	return &room
}

// join sends joinRoom and waits until the client sees itself arrive
func join(t *testing.T, c *TestClient, roomID, username string) {
	t.Helper()
	if err := c.Send(types.IntentJoinRoom, types.RoomIntent{RoomID: roomID, Username: username}); err != nil {
		t.Fatalf("join send failed: %v", err)
	}
	if _, err := c.ReceiveMatching(types.EventUserJoined, 5*time.Second, presenceOf(username)); err != nil {
		t.Fatalf("%s never saw own join: %v", username, err)
	}
}

// claim sends claimCell and waits for a grid snapshot showing the claim
func claim(t *testing.T, c *TestClient, roomID string, x, y int, username string) {
	t.Helper()
	if err := c.Send(types.IntentClaimCell, map[string]interface{}{"roomId": roomID, "x": x, "y": y}); err != nil {
		t.Fatalf("claim send failed: %v", err)
	}
	if _, err := c.ReceiveMatching(types.EventGridUpdated, 5*time.Second, occupiedBy(x, y, username)); err != nil {
		t.Fatalf("%s claim of (%d,%d) not observed: %v", username, x, y, err)
	}
}

func presenceOf(username string) func(json.RawMessage) bool {
	return func(data json.RawMessage) bool {
		var p types.PresenceEvent
		return json.Unmarshal(data, &p) == nil && p.Username == username
	}
}

func occupiedBy(x, y int, username string) func(json.RawMessage) bool {
	return func(data json.RawMessage) bool {
		var snapshot types.GridSnapshot
		if json.Unmarshal(data, &snapshot) != nil {
			return false
		}
		return occupantIn(snapshot.Cells, x, y) == username
	}
}

func occupantIn(cells []types.Cell, x, y int) string {
	for _, c := range cells {
		if c.X == x && c.Y == y {
			return c.Occupant()
		}
	}
	return ""
}
