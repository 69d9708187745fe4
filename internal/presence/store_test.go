package presence

import "testing"

func TestHeartbeatKey(t *testing.T) {
	key := heartbeatKey("alice", "conn-1")
	if key != "presence:alice:conn-1" {
		t.Errorf("unexpected key %q", key)
	}
}

func TestParseHeartbeatKey(t *testing.T) {
	cases := []struct {
		name     string
		key      string
		wantUser string
		wantOK   bool
	}{
		{"plain", "presence:alice:conn-1", "alice", true},
		{"round trip", heartbeatKey("bob", "9f6b2c1e"), "bob", true},
		{"user id containing separator", "presence:org:alice:conn-1", "org:alice", true},
		{"wrong prefix", "session:alice:conn-1", "", false},
		{"no connection part", "presence:alice", "", false},
		{"empty user", "presence::conn-1", "", false},
		{"empty", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			user, ok := parseHeartbeatKey(tc.key)
			if ok != tc.wantOK {
				t.Fatalf("ok = %t, want %t", ok, tc.wantOK)
			}
			if user != tc.wantUser {
				t.Errorf("user = %q, want %q", user, tc.wantUser)
			}
		})
	}
}
