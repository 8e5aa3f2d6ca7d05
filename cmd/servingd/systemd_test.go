package main

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestListen_FallsBackToTCP(t *testing.T) {
	t.Setenv("LISTEN_FDS", "")
	t.Setenv("LISTEN_PID", "")
	ln, activated, err := listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	if activated {
		t.Fatal("expected a plain TCP listener without socket activation")
	}
	if ln.Addr().Network() != "tcp" {
		t.Fatalf("network=%s", ln.Addr().Network())
	}
}

func TestNotify_NoSocketIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	// Must neither panic nor block outside systemd.
	notify(zerolog.Nop(), "READY=1")
}
