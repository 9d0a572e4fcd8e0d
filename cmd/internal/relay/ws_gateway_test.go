package relay

import (
	"net/http/httptest"
	"testing"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()

	log := testLogger()
	presence := NewPresence(log)
	hub := NewHub(log)
	router, err := NewRouter(log, RouterDeps{
		Presence: presence,
		Hub:      hub,
		Pending:  NewPendingStore(log, NewMemoryListStore()),
		Cache:    NewConversationCache(log, NewMemoryListStore()),
		Archive:  NewMemoryArchive(),
		Rooms:    NewMemoryRoomDirectory(),
	}, 0)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	g, err := NewGateway(log, GatewayDeps{
		Presence: presence,
		Hub:      hub,
		Router:   router,
		Signaler: NewSignaler(log, presence, nil),
	})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	return g
}

func TestEnforceOrigin(t *testing.T) {
	g := newTestGateway(t)
	g.originRequired = true
	g.allowedOrigins = []string{"http://localhost", "https://chat.example.com"}

	cases := []struct {
		name    string
		origin  string
		wantErr bool
	}{
		{name: "missing origin rejected", origin: "", wantErr: true},
		{name: "exact match", origin: "http://localhost"},
		{name: "host match different port", origin: "http://localhost:5173"},
		{name: "allowed https origin", origin: "https://chat.example.com"},
		{name: "unknown origin", origin: "https://evil.example.net", wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			if tc.origin != "" {
				r.Header.Set("Origin", tc.origin)
			}
			err := g.enforceOrigin(r)
			if (err != nil) != tc.wantErr {
				t.Fatalf("enforceOrigin(%q) err=%v wantErr=%v", tc.origin, err, tc.wantErr)
			}
		})
	}
}

func TestEnforceOriginOptional(t *testing.T) {
	g := newTestGateway(t)
	g.originRequired = false
	g.allowedOrigins = []string{"http://localhost"}

	r := httptest.NewRequest("GET", "/ws", nil)
	if err := g.enforceOrigin(r); err != nil {
		t.Fatalf("missing origin rejected despite originRequired=false: %v", err)
	}
}

func TestOriginHostOnly(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "http://localhost", want: "localhost"},
		{in: "http://localhost:5173", want: "localhost"},
		{in: "https://Chat.Example.COM", want: "chat.example.com"},
		{in: "localhost:3000", want: "localhost"},
		{in: "localhost", want: "localhost"},
		{in: "", want: ""},
	}

	for _, tc := range cases {
		if got := originHostOnly(tc.in); got != tc.want {
			t.Fatalf("originHostOnly(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestDeriveOriginPatterns(t *testing.T) {
	t.Parallel()

	got := deriveOriginPatternsFromAllowedOrigins([]string{
		"http://localhost",
		"http://localhost:5173",
		"https://chat.example.com",
		"*",
		"",
	})

	want := []string{"chat.example.com", "localhost"}
	if len(got) != len(want) {
		t.Fatalf("patterns=%v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("patterns=%v want=%v", got, want)
		}
	}
}

func TestEnvHelpersWS(t *testing.T) {
	t.Setenv("COURIER_WS_SEND_QUEUE", "128")
	t.Setenv("COURIER_WS_ORIGIN_REQUIRED", "false")
	t.Setenv("COURIER_WS_WRITE_TIMEOUT", "2s")
	t.Setenv("COURIER_WS_ALLOWED_ORIGINS", "http://a, http://b ,")

	if got := envIntWS("COURIER_WS_SEND_QUEUE", 1); got != 128 {
		t.Fatalf("envIntWS=%d want 128", got)
	}
	if got := envBoolWS("COURIER_WS_ORIGIN_REQUIRED", true); got {
		t.Fatalf("envBoolWS=true want false")
	}
	if got := envDurationWS("COURIER_WS_WRITE_TIMEOUT", 0); got.Seconds() != 2 {
		t.Fatalf("envDurationWS=%v want 2s", got)
	}
	if got := envCSVWS("COURIER_WS_ALLOWED_ORIGINS", ""); len(got) != 2 || got[0] != "http://a" || got[1] != "http://b" {
		t.Fatalf("envCSVWS=%v want [http://a http://b]", got)
	}

	// Invalid values fall back to defaults.
	t.Setenv("COURIER_WS_SEND_QUEUE", "nope")
	if got := envIntWS("COURIER_WS_SEND_QUEUE", 7); got != 7 {
		t.Fatalf("envIntWS invalid=%d want default 7", got)
	}
}
