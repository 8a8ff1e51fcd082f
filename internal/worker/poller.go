package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ontree-co/treeseg/internal/cache"
	"github.com/ontree-co/treeseg/internal/dss"
	"github.com/ontree-co/treeseg/internal/logging"
)

// Schedule sets how often each poll task runs
type Schedule struct {
	Connection    time.Duration
	Catalog       time.Duration
	ServiceDetail time.Duration
	Listing       time.Duration
	Detail        time.Duration
}

// DefaultSchedule derives a schedule from the ticket poll interval. The
// connection and catalog change rarely and are polled less often.
func DefaultSchedule(interval time.Duration) Schedule {
	return Schedule{
		Connection:    6 * interval,
		Catalog:       12 * interval,
		ServiceDetail: interval,
		Listing:       interval,
		Detail:        interval,
	}
}

// Poller fetches remote state in the background and posts the results to a
// Loop. Each task kind is skipped while its previous run is still going.
type Poller struct {
	loop     *Loop
	schedule Schedule
	cron     *cron.Cron
	details  *cache.Cache[string, dss.ServiceDetailResponse]

	ctx        context.Context
	cancelFunc context.CancelFunc
}

// NewPoller creates a poller feeding loop
func NewPoller(loop *Loop, schedule Schedule) *Poller {
	logger := cronLogger{}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		loop:       loop,
		schedule:   schedule,
		cron:       cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)), cron.WithLogger(logger)),
		details:    cache.New[string, dss.ServiceDetailResponse](10 * time.Minute),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Start registers the poll tasks and begins running them. Tasks with a zero
// period are not scheduled.
func (p *Poller) Start() error {
	tasks := []struct {
		name  string
		every time.Duration
		run   func(context.Context)
	}{
		{"connection", p.schedule.Connection, p.PollConnection},
		{"catalog", p.schedule.Catalog, p.PollCatalog},
		{"service detail", p.schedule.ServiceDetail, p.PollServiceDetail},
		{"ticket listing", p.schedule.Listing, p.PollListing},
		{"ticket detail", p.schedule.Detail, p.PollDetail},
	}

	for _, task := range tasks {
		if task.every <= 0 {
			continue
		}
		run := task.run
		spec := fmt.Sprintf("@every %s", task.every)
		if _, err := p.cron.AddFunc(spec, func() { run(p.ctx) }); err != nil {
			return fmt.Errorf("failed to schedule %s poll: %w", task.name, err)
		}
		logging.Debugf("Scheduled %s poll %s", task.name, spec)
	}

	p.cron.Start()
	return nil
}

// Stop cancels running tasks and waits for them to return
func (p *Poller) Stop() {
	p.cancelFunc()
	<-p.cron.Stop().Done()
	p.details.Close()
}

// PollConnection probes the selected server and applies the result
func (p *Poller) PollConnection(ctx context.Context) {
	var (
		model      *dss.Model
		url, token string
	)
	if err := p.loop.Do(ctx, func(m *dss.Model) {
		model, url, token = m, m.ServerURL(), m.Token()
	}); err != nil || url == "" {
		return
	}

	resp := model.ProbeConnection(ctx, url, token)
	p.loop.Post(func(m *dss.Model) {
		// The user may have switched servers while the probe ran
		if m.ServerURL() != url {
			return
		}
		m.ApplyStatusCheck(resp)
	})
}

// PollCatalog refreshes the service listing while authorized
func (p *Poller) PollCatalog(ctx context.Context) {
	var (
		model      *dss.Model
		url        string
		authorized bool
	)
	if err := p.loop.Do(ctx, func(m *dss.Model) {
		model, url, authorized = m, m.ServerURL(), m.CheckState(dss.StateAuthenticated)
	}); err != nil || !authorized {
		return
	}

	services, ok := model.FetchCatalog(ctx)
	if !ok {
		return
	}
	p.loop.Post(func(m *dss.Model) {
		if m.ServerURL() != url {
			return
		}
		m.SetCatalog(services)
	})
}

// PollServiceDetail loads the tag requirements of the selected service
// when they are not loaded yet.
func (p *Poller) PollServiceDetail(ctx context.Context) {
	var (
		model        *dss.Model
		hash, loaded string
	)
	if err := p.loop.Do(ctx, func(m *dss.Model) {
		model, hash, loaded = m, m.SelectedServiceHash(), m.ServiceDetailHash()
	}); err != nil || hash == "" || hash == loaded {
		return
	}

	resp, cached := p.details.Get(hash)
	if !cached {
		resp = model.FetchServiceDetail(ctx, hash)
		if !resp.Valid {
			return
		}
		p.details.Set(hash, resp)
	}
	p.loop.Post(func(m *dss.Model) {
		if m.SelectedServiceHash() == resp.Hash {
			m.ApplyServiceDetail(resp)
		}
	})
}

// PollListing refreshes the ticket listing while authorized
func (p *Poller) PollListing(ctx context.Context) {
	var (
		model      *dss.Model
		seq        uint64
		authorized bool
	)
	if err := p.loop.Do(ctx, func(m *dss.Model) {
		authorized = m.CheckState(dss.StateAuthenticated)
		if authorized {
			model, seq = m, m.BeginListingPoll()
		}
	}); err != nil || !authorized {
		return
	}

	resp := model.FetchTicketListing(ctx, seq)
	p.loop.Post(func(m *dss.Model) {
		m.ApplyListing(resp)
	})
}

// PollDetail fetches new log entries of the selected ticket
func (p *Poller) PollDetail(ctx context.Context) {
	var (
		model *dss.Model
		poll  dss.DetailPoll
		ok    bool
	)
	if err := p.loop.Do(ctx, func(m *dss.Model) {
		model = m
		poll, ok = m.BeginDetailPoll()
	}); err != nil || !ok {
		return
	}

	resp := model.FetchTicketDetail(ctx, poll)
	p.loop.Post(func(m *dss.Model) {
		m.ApplyDetail(resp)
	})
}

// cronLogger sends cron's messages to the application log
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logging.Debugf("cron: %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logging.Errorf("cron: %s: %v %v", msg, err, keysAndValues)
}
