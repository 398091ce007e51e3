//go:build linux

package actions

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/coreos/go-systemd/v22/dbus"
)

// DBusUnits controls units over the system bus. The connection is opened on
// first use and reopened after a failure.
type DBusUnits struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

func NewDBusUnits() *DBusUnits { return &DBusUnits{} }

func (d *DBusUnits) connect(ctx context.Context) (*dbus.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil && d.conn.Connected() {
		return d.conn, nil
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "connect systemd")
	}
	d.conn = conn
	return conn, nil
}

type unitCall func(conn *dbus.Conn, ctx context.Context, name, mode string, ch chan<- string) (int, error)

// run issues the job and waits for systemd to report its result.
func (d *DBusUnits) run(ctx context.Context, op string, call unitCall, unit string) error {
	conn, err := d.connect(ctx)
	if err != nil {
		return err
	}
	ch := make(chan string, 1)
	if _, err := call(conn, ctx, unit, "replace", ch); err != nil {
		return errors.Wrapf(err, "%s %s", op, unit)
	}
	select {
	case res := <-ch:
		if res != "done" {
			return errors.Newf("%s %s: job %s", op, unit, res)
		}
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "%s %s", op, unit)
	}
}

func (d *DBusUnits) Start(ctx context.Context, unit string) error {
	return d.run(ctx, "start", (*dbus.Conn).StartUnitContext, unit)
}

func (d *DBusUnits) Stop(ctx context.Context, unit string) error {
	return d.run(ctx, "stop", (*dbus.Conn).StopUnitContext, unit)
}

func (d *DBusUnits) Restart(ctx context.Context, unit string) error {
	return d.run(ctx, "restart", (*dbus.Conn).RestartUnitContext, unit)
}

func (d *DBusUnits) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
	}
	return nil
}
