package config

import (
	"log/slog"
	"testing"
	"time"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(lookupFrom(nil), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.Mode != ModeDev {
		t.Errorf("Mode=%q, want dev", cfg.Mode)
	}
	if cfg.LogFormat != LogFormatText {
		t.Errorf("LogFormat=%q, want text", cfg.LogFormat)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel=%v, want debug", cfg.LogLevel)
	}
	if cfg.MaxRooms != DefaultMaxRooms {
		t.Errorf("MaxRooms=%d, want %d", cfg.MaxRooms, DefaultMaxRooms)
	}
	if cfg.MaxUsersPerRoom != DefaultMaxUsersPerRoom {
		t.Errorf("MaxUsersPerRoom=%d, want %d", cfg.MaxUsersPerRoom, DefaultMaxUsersPerRoom)
	}
	if cfg.RoomTimeout != DefaultRoomTimeout {
		t.Errorf("RoomTimeout=%v, want %v", cfg.RoomTimeout, DefaultRoomTimeout)
	}
	if cfg.SweepInterval != DefaultSweepInterval {
		t.Errorf("SweepInterval=%v, want %v", cfg.SweepInterval, DefaultSweepInterval)
	}
	if want := DefaultSweepInterval * DefaultIdleTimeoutFactor; cfg.IdleTimeout != want {
		t.Errorf("IdleTimeout=%v, want %v", cfg.IdleTimeout, want)
	}
	if cfg.MaxMemoryMB != DefaultMaxMemoryMB {
		t.Errorf("MaxMemoryMB=%d, want %d", cfg.MaxMemoryMB, DefaultMaxMemoryMB)
	}
	if cfg.TURNREST.Enabled() {
		t.Errorf("TURN REST enabled without a shared secret")
	}
}

func TestDefaultsProdWhenModeFlagSet(t *testing.T) {
	cfg, err := load(lookupFrom(nil), []string{"-mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Errorf("Mode=%q, want prod", cfg.Mode)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Errorf("LogFormat=%q, want json", cfg.LogFormat)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel=%v, want info", cfg.LogLevel)
	}
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"MAX_ROOMS":          "3",
		"MAX_USERS_PER_ROOM": "2",
		"ROOM_TIMEOUT":       "90s",
		"SWEEP_INTERVAL":     "5s",
		"IDLE_TIMEOUT":       "1m",
		"MAX_MEMORY_MB":      "64",
	}
	cfg, err := load(lookupFrom(env), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxRooms != 3 {
		t.Errorf("MaxRooms=%d, want 3", cfg.MaxRooms)
	}
	if cfg.RoomTimeout != 90*time.Second {
		t.Errorf("RoomTimeout=%v, want 90s", cfg.RoomTimeout)
	}
	if cfg.SweepInterval != 5*time.Second {
		t.Errorf("SweepInterval=%v, want 5s", cfg.SweepInterval)
	}
	if cfg.IdleTimeout != time.Minute {
		t.Errorf("IdleTimeout=%v, want 1m", cfg.IdleTimeout)
	}
	if cfg.MaxMemoryMB != 64 {
		t.Errorf("MaxMemoryMB=%d, want 64", cfg.MaxMemoryMB)
	}
}

func TestInvalidValuesRejected(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{"bad mode", nil, []string{"-mode", "staging"}},
		{"zero rooms", map[string]string{"MAX_ROOMS": "0"}, nil},
		{"bad room timeout", map[string]string{"ROOM_TIMEOUT": "soon"}, nil},
		{"idle not exceeding sweep", map[string]string{"SWEEP_INTERVAL": "30s", "IDLE_TIMEOUT": "30s"}, nil},
		{"bad ice servers", map[string]string{"ICE_SERVERS": "not-json"}, nil},
		{"ice server without urls", map[string]string{"ICE_SERVERS": `[{"username":"u"}]`}, nil},
		{"turn secret without urls", map[string]string{"TURN_REST_SHARED_SECRET": "s"}, nil},
		{"positional args", nil, []string{"extra"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := load(lookupFrom(tc.env), tc.args); err == nil {
				t.Fatalf("load succeeded, want error")
			}
		})
	}
}

func TestICEServersParsed(t *testing.T) {
	env := map[string]string{
		"ICE_SERVERS": `[{"urls":["stun:stun.example.org"]},{"urls":["turn:turn.example.org:3478"],"username":"u","credential":"c"}]`,
	}
	cfg, err := load(lookupFrom(env), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.ICEServers) != 2 {
		t.Fatalf("len(ICEServers)=%d, want 2", len(cfg.ICEServers))
	}
	if cfg.ICEServers[1].Username != "u" || cfg.ICEServers[1].Credential != "c" {
		t.Errorf("TURN entry credentials not preserved: %+v", cfg.ICEServers[1])
	}
}

func TestTURNRESTConfig(t *testing.T) {
	env := map[string]string{
		"TURN_REST_SHARED_SECRET": "secret",
		"TURN_REST_URLS":          "turn:turn.example.org:3478, turn:turn.example.org:3478?transport=tcp",
	}
	cfg, err := load(lookupFrom(env), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.TURNREST.Enabled() {
		t.Fatalf("TURN REST should be enabled")
	}
	if cfg.TURNREST.TTLSeconds != DefaultTURNRESTTTLSeconds {
		t.Errorf("TTLSeconds=%d, want %d", cfg.TURNREST.TTLSeconds, DefaultTURNRESTTTLSeconds)
	}
	if len(cfg.TURNREST.URLs) != 2 {
		t.Fatalf("len(URLs)=%d, want 2", len(cfg.TURNREST.URLs))
	}
	if cfg.TURNREST.URLs[1] != "turn:turn.example.org:3478?transport=tcp" {
		t.Errorf("URLs[1]=%q not trimmed", cfg.TURNREST.URLs[1])
	}
}
