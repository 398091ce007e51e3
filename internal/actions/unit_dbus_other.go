//go:build !linux

package actions

import (
	"context"

	"github.com/cockroachdb/errors"
)

var errNoSystemd = errors.New("systemd is only available on linux")

// DBusUnits is unavailable outside linux; every call fails.
type DBusUnits struct{}

func NewDBusUnits() *DBusUnits { return &DBusUnits{} }

func (*DBusUnits) Start(context.Context, string) error   { return errNoSystemd }
func (*DBusUnits) Stop(context.Context, string) error    { return errNoSystemd }
func (*DBusUnits) Restart(context.Context, string) error { return errNoSystemd }
func (*DBusUnits) Close() error                          { return nil }
