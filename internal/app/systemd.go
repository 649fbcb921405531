package app

import (
	"github.com/coreos/go-systemd/v22/daemon"

	"automatex/pkg/logx"
)

// sdNotify reports state to systemd when running under a Type=notify unit.
// Outside systemd NOTIFY_SOCKET is unset and this is a no-op.
func sdNotify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}
