// Package scheduler drives time-based work: the periodic scan that
// enqueues due subscriptions, the expiry sweep for old read articles, and
// a file watcher that re-fetches local-file feeds when they change.
package scheduler

import (
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/feedhaven/feedhaven/internal/gateway"
	"github.com/feedhaven/feedhaven/internal/updater"
)

// Options configures the scheduled jobs.
type Options struct {
	// ScanInterval is how often, in minutes, due subscriptions are scanned.
	ScanInterval int
	// ExpiryDays removes read, non-favourite articles last read more than
	// this many days ago. Zero disables the sweep.
	ExpiryDays int
}

// Scheduler owns the background job scheduler.
type Scheduler struct {
	gw      *gateway.Gateway
	updater *updater.Updater
	opts    Options
	s       *gocron.Scheduler
}

// Start creates the scheduler and launches its jobs. The gateway instance
// must be dedicated to it.
func Start(gw *gateway.Gateway, upd *updater.Updater, opts Options) *Scheduler {
	sch := &Scheduler{
		gw:      gw,
		updater: upd,
		opts:    opts,
		s:       gocron.NewScheduler(time.UTC),
	}
	sch.s.SingletonModeAll()

	sch.startDueScanJob()
	sch.startExpiryJob()

	log.Println("Starting background job scheduler...")
	sch.s.StartAsync()
	return sch
}

// Stop halts all scheduled jobs.
func (sch *Scheduler) Stop() {
	sch.s.Stop()
}

func (sch *Scheduler) startDueScanJob() {
	interval := sch.opts.ScanInterval
	if interval == 0 {
		log.Println("Update scan interval is 0, scheduled updates are disabled.")
		return
	}

	log.Printf("Scheduling due-subscription scan every %d minute(s).", interval)
	_, err := sch.s.Every(interval).Minutes().Do(sch.ScanDueSubscriptions)
	if err != nil {
		log.Printf("Error scheduling due-subscription scan: %v", err)
	}
}

func (sch *Scheduler) startExpiryJob() {
	if sch.opts.ExpiryDays <= 0 {
		log.Println("Article expiry is disabled.")
		return
	}

	log.Printf("Scheduling expiry sweep for articles read over %d day(s) ago.", sch.opts.ExpiryDays)
	_, err := sch.s.Every(1).Day().Do(sch.SweepExpiredArticles)
	if err != nil {
		log.Printf("Error scheduling expiry sweep: %v", err)
	}
}

// ScanDueSubscriptions enqueues every subscription whose update interval
// has elapsed since its last fetch.
func (sch *Scheduler) ScanDueSubscriptions() {
	reply, ok := sch.gw.FetchDueSubscriptions(time.Now())
	if !ok {
		return
	}
	res := <-reply
	if res.Err != nil {
		log.Printf("scheduler: due-subscription scan failed: %v", res.Err)
		return
	}
	for res.Cursor.Next() {
		sch.updater.Enqueue(res.Cursor.Record().ID)
	}
}

// SweepExpiredArticles deletes read, non-favourite articles past the
// retention window.
func (sch *Scheduler) SweepExpiredArticles() {
	cutoff := time.Now().AddDate(0, 0, -sch.opts.ExpiryDays)
	reply, ok := sch.gw.DeleteExpiredArticles(cutoff)
	if !ok {
		return
	}
	res := <-reply
	if res.Err != nil {
		log.Printf("scheduler: expiry sweep failed: %v", res.Err)
		return
	}
	if res.Count > 0 {
		log.Printf("scheduler: expired %d read article(s)", res.Count)
	}
}
