package osg

import (
	"context"
	"errors"
	"time"

	"github.com/golang/glog"
)

// RetryTransient retries fn while it returns ErrTransient, backing off
// exponentially from base and capping at ceiling, until ctx is done or fn
// stops returning ErrTransient. Grounded on the teacher's metasyncer
// retry-on-timer discipline (failed syncs are re-queued and re-attempted
// on a growing interval rather than spun on immediately).
func RetryTransient(ctx context.Context, base, ceiling time.Duration, fn func() error) error {
	delay := base
	for {
		err := fn()
		if err == nil || !errors.Is(err, ErrTransient) {
			return err
		}
		glog.V(4).Infof("osg: transient error, retrying in %s", delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if delay > ceiling {
			delay = ceiling
		}
	}
}
