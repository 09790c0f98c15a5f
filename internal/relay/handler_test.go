package relay_test

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"diamonds-club/internal/middleware"
	"diamonds-club/internal/relay"
	"diamonds-club/internal/room"
	"diamonds-club/internal/state"
)

const testStartingBalance = 250.0

func newTestRelay(t *testing.T) (*httptest.Server, *relay.TokenService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens := relay.NewTokenService("test-secret", time.Hour)
	manager := relay.NewManager(nil, testStartingBalance)
	handler := relay.NewHandler(manager, tokens, nil)

	router := gin.New()
	router.POST("/join", handler.Join)
	protected := router.Group("/")
	protected.Use(middleware.AuthMiddleware(tokens))
	protected.GET("/ws", handler.ServeWS)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, tokens
}

func dialRoom(t *testing.T, srv *httptest.Server, tokens *relay.TokenService, roomID, username string) *room.Socket {
	t.Helper()

	token, _, err := tokens.Issue(roomID, username)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	s, err := room.Dial(wsURL, token)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRelayReplicatesRoomState(t *testing.T) {
	srv, tokens := newTestRelay(t)

	a := dialRoom(t, srv, tokens, "lobby", "ana")
	b := dialRoom(t, srv, tokens, "lobby", "ben")

	if err := a.UpdateRoomState(state.RoomPatch{
		SlotMachines: map[string]state.SlotMachinePatch{
			"slot-1": {BetAmount: state.Ptr(5.0), Message: state.Ptr("hello")},
		},
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	eventually(t, "patch to reach the other member", func() bool {
		rs := b.RoomState().SlotMachines["slot-1"]
		return rs.BetAmount == 5 && rs.Message == "hello"
	})
	eventually(t, "patch to echo back to the writer", func() bool {
		return a.RoomState().SlotMachines["slot-1"].BetAmount == 5
	})
}

func TestRelayIsolatesRooms(t *testing.T) {
	srv, tokens := newTestRelay(t)

	a := dialRoom(t, srv, tokens, "lobby", "ana")
	other := dialRoom(t, srv, tokens, "annex", "cai")

	if err := a.UpdateRoomState(state.RoomPatch{
		SlotMachines: map[string]state.SlotMachinePatch{
			"slot-1": {Message: state.Ptr("lobby only")},
		},
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	eventually(t, "patch to land in the lobby", func() bool {
		return a.RoomState().SlotMachines["slot-1"].Message == "lobby only"
	})

	if len(other.RoomState().SlotMachines) != 0 {
		t.Error("a patch leaked across rooms")
	}
}

func TestRelayPresenceAndRequests(t *testing.T) {
	srv, tokens := newTestRelay(t)

	a := dialRoom(t, srv, tokens, "lobby", "ana")
	b := dialRoom(t, srv, tokens, "lobby", "ben")
	c := dialRoom(t, srv, tokens, "lobby", "cai")

	eventually(t, "everyone to appear in presence", func() bool {
		return len(a.Presence()) == 3
	})

	if err := a.UpdatePresence(state.PresencePatch{Money: state.Ptr(42.0)}); err != nil {
		t.Fatalf("presence update failed: %v", err)
	}
	eventually(t, "presence to replicate", func() bool {
		return b.Presence()[a.ClientID()].Money == 42
	})

	var mu sync.Mutex
	var bGot, cGot int
	b.SubscribePresenceUpdateRequests(func(req state.PresenceRequest, from string) {
		mu.Lock()
		bGot++
		mu.Unlock()
		if from != a.ClientID() {
			t.Errorf("request from %q, want %q", from, a.ClientID())
		}
	})
	c.SubscribePresenceUpdateRequests(func(req state.PresenceRequest, from string) {
		mu.Lock()
		cGot++
		mu.Unlock()
	})

	if err := a.RequestPresenceUpdate(b.ClientID(), state.PresenceRequest{
		Type:   state.PresenceRequestGiveMoney,
		Amount: 10,
	}); err != nil {
		t.Fatalf("request failed: %v", err)
	}

	eventually(t, "the addressed client to receive the request", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return bGot == 1
	})
	mu.Lock()
	if cGot != 0 {
		t.Errorf("bystander received %d requests, want 0", cGot)
	}
	mu.Unlock()

	b.Close()
	eventually(t, "presence to drop with the client", func() bool {
		_, ok := a.Presence()[b.ClientID()]
		return !ok
	})
}

func TestRelaySeedsStartingBalance(t *testing.T) {
	srv, tokens := newTestRelay(t)

	a := dialRoom(t, srv, tokens, "lobby", "ana")

	if got := a.StartingBalance(); got != testStartingBalance {
		t.Errorf("welcome starting balance = %v, want %v", got, testStartingBalance)
	}
	if got := a.Presence()[a.ClientID()].Money; got != testStartingBalance {
		t.Errorf("presence money = %v, want the configured starting balance %v", got, testStartingBalance)
	}

	b := dialRoom(t, srv, tokens, "lobby", "ben")
	eventually(t, "the new member's bankroll to replicate", func() bool {
		return a.Presence()[b.ClientID()].Money == testStartingBalance
	})
}

func TestRelayBroadcastsEvents(t *testing.T) {
	srv, tokens := newTestRelay(t)

	a := dialRoom(t, srv, tokens, "lobby", "ana")
	b := dialRoom(t, srv, tokens, "lobby", "ben")

	var mu sync.Mutex
	var got []state.Event
	b.OnMessage(func(ev state.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	if err := a.Send(state.Event{Type: state.EventChat, Message: "hi room"}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	eventually(t, "the event to arrive", func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, ev := range got {
			if ev.Type == state.EventChat && ev.Message == "hi room" {
				return true
			}
		}
		return false
	})
}

func TestRelayRejectsBadTokens(t *testing.T) {
	srv, _ := newTestRelay(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if _, err := room.Dial(wsURL, "garbage"); err == nil {
		t.Error("dial with a garbage token must fail")
	}
}
