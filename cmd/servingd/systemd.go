package main

import (
	"fmt"
	"net"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
)

// listen returns the first socket passed by systemd socket activation, or a
// fresh TCP listener on addr when the process was not socket activated.
func listen(addr string) (net.Listener, bool, error) {
	lns, err := activation.Listeners()
	if err != nil {
		return nil, false, fmt.Errorf("socket activation: %w", err)
	}
	for i, ln := range lns {
		if ln == nil {
			continue
		}
		for _, extra := range lns[i+1:] {
			if extra != nil {
				_ = extra.Close()
			}
		}
		return ln, true, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, false, err
	}
	return ln, false, nil
}

// notify sends state to the systemd notify socket. Outside systemd it is a
// no-op.
func notify(log zerolog.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn().Err(err).Str("state", state).Msg("sd_notify failed")
		return
	}
	if sent {
		log.Debug().Str("state", state).Msg("sd_notify sent")
	}
}
