package digest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"deskwire/internal/notification"
)

// Minimum elapsed time between digests. The two-hour slack keeps a
// daily digest from slipping a day when ticks don't land on exact
// 24-hour boundaries.
const (
	dailyMinElapsed  = 22 * time.Hour
	weeklyMinElapsed = 7*24*time.Hour - 2*time.Hour
)

// Batch is one user's digest handed to the delivery collaborator.
type Batch struct {
	ID            string
	UserID        int64
	Email         string
	Notifications []notification.Notification
}

// Sender delivers one digest batch out of band (email).
type Sender interface {
	SendDigest(ctx context.Context, batch Batch) error
}

// Scheduler runs the digest job on a fixed interval. Overlapping ticks
// are skipped, never run concurrently, and each tick has a wall-clock
// budget.
type Scheduler struct {
	store  *Store
	sender Sender
	scope  Scope
	budget time.Duration

	interval time.Duration
	cron     *cron.Cron

	// now is swappable for tests.
	now func() time.Time
}

// NewScheduler assembles the digest job.
func NewScheduler(store *Store, sender Sender, scope Scope, interval, budget time.Duration) *Scheduler {
	return &Scheduler{
		store:    store,
		sender:   sender,
		scope:    scope,
		budget:   budget,
		interval: interval,
		now:      time.Now,
	}
}

type cronLog struct{}

func (cronLog) Printf(format string, args ...interface{}) {
	slog.Info(fmt.Sprintf(format, args...))
}

// Start begins ticking. A tick that is still running when the next one
// fires causes the next one to be skipped.
func (s *Scheduler) Start() {
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.PrintfLogger(cronLog{})),
	))
	s.cron.Schedule(cron.Every(s.interval), cron.FuncJob(s.tick))
	s.cron.Start()
	slog.Info("Digest scheduler started", "interval", s.interval, "scope", s.scope)
}

// Stop halts the schedule and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.budget)
	defer cancel()

	if err := s.RunOnce(ctx); err != nil {
		slog.Error("digest tick failed", "error", err)
	}
}

// RunOnce executes a single digest pass: select eligible users, load
// all their candidate notifications in one batched query, send one
// digest per user, then record the send times in one upsert.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	now := s.now().UTC()

	prefs, err := s.store.CandidatePreferences(ctx)
	if err != nil {
		return err
	}

	eligible := prefs[:0]
	cutoff := now
	for _, p := range prefs {
		if !s.due(p, now) {
			continue
		}
		eligible = append(eligible, p)
		if s.scope == ScopeSinceLast {
			c := sinceCutoff(p, now)
			if c.Before(cutoff) {
				cutoff = c
			}
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	userIDs := make([]int64, 0, len(eligible))
	for _, p := range eligible {
		userIDs = append(userIDs, p.UserID)
	}

	grouped, err := s.store.NotificationsForUsers(ctx, userIDs, s.scope, cutoff)
	if err != nil {
		return err
	}

	sent := make([]int64, 0, len(eligible))
	for _, p := range eligible {
		items := grouped[p.UserID]
		if s.scope == ScopeSinceLast {
			items = trimBefore(items, sinceCutoff(p, now))
		}
		if len(items) == 0 {
			continue
		}

		batch := Batch{
			ID:            uuid.New().String(),
			UserID:        p.UserID,
			Email:         p.Email,
			Notifications: items,
		}
		if err := s.sender.SendDigest(ctx, batch); err != nil {
			// One user's delivery failure never blocks the others.
			slog.Error("failed to send digest", "user_id", p.UserID, "batch_id", batch.ID, "error", err)
			continue
		}
		sent = append(sent, p.UserID)
	}

	if err := s.store.MarkSent(ctx, sent, now); err != nil {
		return err
	}
	if len(sent) > 0 {
		slog.Info("digest tick complete", "eligible", len(eligible), "sent", len(sent))
	}
	return nil
}

// due reports whether the user should receive a digest at t: inside the
// delivery window, weekend honored, and enough time elapsed since the
// previous digest for the configured frequency.
func (s *Scheduler) due(p Preference, t time.Time) bool {
	if !withinWindow(p, t) {
		return false
	}
	if p.LastSentAt == nil {
		return true
	}
	elapsed := t.Sub(*p.LastSentAt)
	switch p.Frequency {
	case FrequencyDaily:
		return elapsed >= dailyMinElapsed
	case FrequencyWeekly:
		return elapsed >= weeklyMinElapsed
	default:
		return false
	}
}

// withinWindow checks hoursStart..hoursEnd, where a window with
// start > end wraps past midnight and start == end means all day.
func withinWindow(p Preference, t time.Time) bool {
	if !p.WeekendEnabled {
		if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return false
		}
	}
	h := t.Hour()
	switch {
	case p.HoursStart == p.HoursEnd:
		return true
	case p.HoursStart < p.HoursEnd:
		return h >= p.HoursStart && h < p.HoursEnd
	default:
		return h >= p.HoursStart || h < p.HoursEnd
	}
}

// sinceCutoff is the per-user lower bound for ScopeSinceLast. Users who
// never received a digest get a week of history rather than everything.
func sinceCutoff(p Preference, now time.Time) time.Time {
	if p.LastSentAt == nil {
		return now.Add(-7 * 24 * time.Hour)
	}
	return p.LastSentAt.UTC()
}

func trimBefore(items []notification.Notification, cutoff time.Time) []notification.Notification {
	out := items[:0]
	for _, n := range items {
		if !n.CreatedAt.Before(cutoff) {
			out = append(out, n)
		}
	}
	return out
}
