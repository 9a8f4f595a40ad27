package memory

import (
	"github.com/robfig/cron/v3"
)

// autoSync schedules periodic background syncs from a cron expression.
type autoSync struct {
	cron *cron.Cron
}

func newAutoSync(spec string, fn func()) (*autoSync, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, fn); err != nil {
		return nil, err
	}
	c.Start()
	return &autoSync{cron: c}, nil
}

func (a *autoSync) stop() {
	ctx := a.cron.Stop()
	<-ctx.Done()
}
