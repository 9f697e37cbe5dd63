// SPDX-License-Identifier: GPL-3.0-or-later

package httpclient

import (
	"context"
	"time"

	"github.com/bassosimone/evloop"
)

// connObserver logs per-connection I/O events in the shape of the
// teacher's ObserveConnFunc/observedConn (observeconn.go), adapted
// from wrapping a [net.Conn] to bracketing the raw-fd
// [evloop.EventLoop] calls a [Connection] issues directly, since this
// module never holds a net.Conn. Enabled per [Config.ObserveConns].
type connObserver struct {
	logger   evloop.Logger
	errClass evloop.ErrClassifier
	timeNow  func() time.Time
	protocol string
	local    string
	remote   string
}

func newConnObserver(cfg *Config, protocol, local, remote string) *connObserver {
	return &connObserver{
		logger:   cfg.Logger,
		errClass: cfg.ErrClassifier,
		timeNow:  cfg.TimeNow,
		protocol: protocol,
		local:    local,
		remote:   remote,
	}
}

func (o *connObserver) readStart(bufSize int) time.Time {
	t0 := o.timeNow()
	o.logger.Debug("readStart",
		"ioBufferSize", bufSize,
		"localAddr", o.local,
		"protocol", o.protocol,
		"remoteAddr", o.remote,
		"t", t0,
	)
	return t0
}

func (o *connObserver) readDone(t0 time.Time, n int, err error) {
	o.logger.Debug("readDone",
		"ioBytesCount", n,
		"err", err,
		"errClass", o.errClass.Classify(err),
		"localAddr", o.local,
		"protocol", o.protocol,
		"remoteAddr", o.remote,
		"t0", t0,
		"t", o.timeNow(),
	)
}

func (o *connObserver) writeStart(bufSize int) time.Time {
	t0 := o.timeNow()
	o.logger.Debug("writeStart",
		"ioBufferSize", bufSize,
		"localAddr", o.local,
		"protocol", o.protocol,
		"remoteAddr", o.remote,
		"t", t0,
	)
	return t0
}

func (o *connObserver) writeDone(t0 time.Time, n int, err error) {
	o.logger.Debug("writeDone",
		"ioBytesCount", n,
		"err", err,
		"errClass", o.errClass.Classify(err),
		"localAddr", o.local,
		"protocol", o.protocol,
		"remoteAddr", o.remote,
		"t0", t0,
		"t", o.timeNow(),
	)
}

func (o *connObserver) closeStart() time.Time {
	t0 := o.timeNow()
	o.logger.Info("closeStart",
		"localAddr", o.local,
		"protocol", o.protocol,
		"remoteAddr", o.remote,
		"t", t0,
	)
	return t0
}

func (o *connObserver) closeDone(t0 time.Time, err error) {
	o.logger.Info("closeDone",
		"err", err,
		"errClass", o.errClass.Classify(err),
		"localAddr", o.local,
		"protocol", o.protocol,
		"remoteAddr", o.remote,
		"t0", t0,
		"t", o.timeNow(),
	)
}

// watchCancellation arranges for fd to be closed as soon as ctx is
// done, the way the teacher's CancelWatchFunc closes a net.Conn via
// context.AfterFunc, adapted here to an evloop-owned fd via
// [evloop.EventLoop.CloseFd]. The returned stop func must be called
// once the connection is done with fd through any other path, to
// avoid closing a reused descriptor out from under a future owner.
func watchCancellation(ctx context.Context, loop *evloop.EventLoop, fd int) (stop func() bool) {
	if ctx == nil {
		return func() bool { return false }
	}
	return context.AfterFunc(ctx, func() {
		loop.CloseFd(fd, nil, func(*evloop.Completion) {})
	})
}
