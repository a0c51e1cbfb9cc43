package app

import (
	"github.com/coreos/go-systemd/v22/daemon"

	logx "remindbot/pkg/logx"
)

// notifySystemd reports state to systemd when running under Type=notify.
// Outside systemd NOTIFY_SOCKET is unset and this does nothing.
func notifySystemd(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("systemd notified", logx.String("state", state))
	}
}
