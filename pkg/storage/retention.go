package storage

import (
	"container/list"
	"context"
	"expvar"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tempmaild/tempmaild/pkg/config"
	"github.com/tempmaild/tempmaild/pkg/metric"
)

var (
	expRetentionDeletesTotal = new(expvar.Int)
	expRetainedCurrent       = new(expvar.Int)

	retentionDeletesHist = list.New()
	retainedHist         = list.New()

	expRetentionDeletesHist = new(expvar.String)
	expRetainedHist         = new(expvar.String)
)

func init() {
	rm := expvar.NewMap("retention")
	rm.Set("DeletesTotal", expRetentionDeletesTotal)
	rm.Set("DeletesHist", expRetentionDeletesHist)
	rm.Set("RetainedCurrent", expRetainedCurrent)
	rm.Set("RetainedHist", expRetainedHist)
	metric.AddTickerFunc(func() {
		expRetentionDeletesHist.Set(metric.Push(retentionDeletesHist, expRetentionDeletesTotal))
		expRetainedHist.Set(metric.Push(retainedHist, expRetainedCurrent))
	})
}

// RetentionSweeper deletes messages older than the message TTL and mailboxes
// older than the mailbox TTL, on a fixed interval.
type RetentionSweeper struct {
	ds         Store
	messageTTL time.Duration
	mailboxTTL time.Duration
	interval   time.Duration
	sweepSleep time.Duration
	shutdown   chan struct{} // Closed after the sweep loop exits.
}

// NewRetentionSweeper configures a new RetentionSweeper.
func NewRetentionSweeper(cfg config.Storage, ds Store) *RetentionSweeper {
	return &RetentionSweeper{
		ds:         ds,
		messageTTL: cfg.MessageTTL,
		mailboxTTL: cfg.MailboxTTL,
		interval:   cfg.SweepInterval,
		sweepSleep: cfg.SweepSleep,
		shutdown:   make(chan struct{}),
	}
}

// Start launches the sweep loop; it runs until ctx is canceled.
func (rs *RetentionSweeper) Start(ctx context.Context) {
	if rs.messageTTL <= 0 && rs.mailboxTTL <= 0 {
		log.Info().Str("module", "retention").Msg("Retention sweeper disabled")
		close(rs.shutdown)
		return
	}
	log.Info().Str("module", "retention").
		Dur("messageTTL", rs.messageTTL).
		Dur("mailboxTTL", rs.mailboxTTL).
		Msgf("Retention sweep scheduled every %v", rs.interval)
	go rs.run(ctx)
}

// run triggers sweeps on the configured schedule.
func (rs *RetentionSweeper) run(ctx context.Context) {
	ticker := time.NewTicker(rs.interval)
	defer func() {
		ticker.Stop()
		close(rs.shutdown)
	}()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "retention").Msg("Retention sweeper shut down")
			return
		case <-ticker.C:
			if err := rs.DoSweep(ctx, time.Now()); err != nil {
				// A failed sweep is retried on the next tick.
				log.Error().Str("module", "retention").Err(err).Msg("Error during retention sweep")
			}
		}
	}
}

// DoSweep does a single pass over all mailboxes.  Expired messages are
// deleted first, then expired mailboxes, so a mailbox is never removed
// mid-pass while fresh messages are still being pruned from it.
func (rs *RetentionSweeper) DoSweep(ctx context.Context, now time.Time) error {
	msgCutoff := now.Add(-rs.messageTTL)
	boxCutoff := now.Add(-rs.mailboxTTL)
	retained := 0
	expired := make([]string, 0)
	err := rs.ds.VisitMailboxes(func(mb *Mailbox, messages []Message) bool {
		if rs.messageTTL > 0 {
			for _, msg := range messages {
				if msg.Date().Before(msgCutoff) {
					log.Debug().Str("module", "retention").Str("mailbox", mb.Name).
						Str("id", msg.ID()).Msg("Deleting expired message")
					if err := rs.ds.RemoveMessage(mb.Name, msg.ID()); err != nil {
						log.Error().Str("module", "retention").Err(err).
							Msgf("Failed to delete message %v/%v", mb.Name, msg.ID())
					} else {
						expRetentionDeletesTotal.Add(1)
					}
				} else {
					retained++
				}
			}
		}
		if rs.mailboxTTL > 0 && mb.Created.Before(boxCutoff) {
			expired = append(expired, mb.Name)
		}
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "retention").Msg("Retention sweep aborted due to shutdown")
			return false
		case <-time.After(rs.sweepSleep):
			// Reduce store thrashing.
		}
		return true
	})
	if err != nil {
		return err
	}
	// Mailbox pass: cascade deletes any remaining messages.
	for _, name := range expired {
		log.Debug().Str("module", "retention").Str("mailbox", name).
			Msg("Deleting expired mailbox")
		if err := rs.ds.RemoveMailbox(name); err != nil {
			log.Error().Str("module", "retention").Err(err).
				Msgf("Failed to delete mailbox %v", name)
		} else {
			expRetentionDeletesTotal.Add(1)
		}
	}
	expRetainedCurrent.Set(int64(retained))
	return nil
}

// Join does not return until the sweep loop has shut down.
func (rs *RetentionSweeper) Join() {
	<-rs.shutdown
}
