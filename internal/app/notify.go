package app

import (
	"github.com/coreos/go-systemd/v22/daemon"

	logx "bigben/pkg/logx"
)

// notifier reports lifecycle state to systemd. Outside systemd every call is a no-op.
type notifier struct {
	log logx.Logger
	// send defaults to daemon.SdNotify.
	send func(unsetEnv bool, state string) (bool, error)
}

func newNotifier(log logx.Logger) *notifier {
	return &notifier{log: log, send: daemon.SdNotify}
}

func (n *notifier) notify(state string) {
	if n == nil || n.send == nil {
		return
	}
	sent, err := n.send(false, state)
	switch {
	case err != nil:
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		n.log.Debug("sd_notify", logx.String("state", state))
	}
}

func (n *notifier) ready()     { n.notify(daemon.SdNotifyReady) }
func (n *notifier) stopping()  { n.notify(daemon.SdNotifyStopping) }
func (n *notifier) reloading() { n.notify(daemon.SdNotifyReloading) }
