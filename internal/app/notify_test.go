package app

import (
	"errors"
	"reflect"
	"testing"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "bigben/pkg/logx"
)

func TestNotifierStates(t *testing.T) {
	t.Parallel()
	var states []string
	n := &notifier{log: logx.Nop(), send: func(_ bool, state string) (bool, error) {
		states = append(states, state)
		return true, nil
	}}
	n.ready()
	n.reloading()
	n.stopping()

	want := []string{daemon.SdNotifyReady, daemon.SdNotifyReloading, daemon.SdNotifyStopping}
	if !reflect.DeepEqual(states, want) {
		t.Fatalf("states = %q", states)
	}
}

func TestNotifierToleratesFailures(t *testing.T) {
	t.Parallel()
	n := &notifier{log: logx.Nop(), send: func(bool, string) (bool, error) { return false, errors.New("socket gone") }}
	n.ready()

	var nilNotifier *notifier
	nilNotifier.stopping()
}
