package scheduler

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var timeRegex = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// Scheduler runs a job at fixed times of day in one timezone. A run that
// is still going when the next time arrives causes that tick to be skipped.
type Scheduler struct {
	cron     *cron.Cron
	location *time.Location
	mu       sync.Mutex
	entryIDs []cron.EntryID
	started  bool
}

// NewScheduler creates a new scheduler for the given timezone.
func NewScheduler(timezone string) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}

	logger := slogLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		location: loc,
	}, nil
}

// Schedule sets up fn to run daily at each of times (HH:MM format),
// replacing any previously scheduled times. Nothing changes if a time is
// invalid.
func (s *Scheduler) Schedule(times []string, fn func()) error {
	if len(times) == 0 {
		return fmt.Errorf("no publish times given")
	}

	specs := make([]string, 0, len(times))
	for _, t := range times {
		hour, minute, err := parseTime(t)
		if err != nil {
			return err
		}
		specs = append(specs, buildCronSpec(hour, minute))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.entryIDs {
		s.cron.Remove(id)
	}
	s.entryIDs = s.entryIDs[:0]

	job := cron.FuncJob(fn)
	for _, spec := range specs {
		entryID, err := s.cron.AddJob(spec, job)
		if err != nil {
			return fmt.Errorf("add cron job: %w", err)
		}
		s.entryIDs = append(s.entryIDs, entryID)
	}

	slog.Info("schedule updated", "times", times, "timezone", s.location.String())
	return nil
}

// Next returns the next time a scheduled job will run, or the zero time
// when the scheduler is not running or nothing is scheduled.
func (s *Scheduler) Next() time.Time {
	var next time.Time
	for _, e := range s.cron.Entries() {
		if e.Next.IsZero() {
			continue
		}
		if next.IsZero() || e.Next.Before(next) {
			next = e.Next
		}
	}
	return next
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.cron.Start()
		s.started = true
	}
}

// Stop halts the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		<-s.cron.Stop().Done()
		s.started = false
	}
}

func parseTime(timeStr string) (int, int, error) {
	matches := timeRegex.FindStringSubmatch(timeStr)
	if len(matches) != 3 {
		return 0, 0, fmt.Errorf("invalid time format: %q (expected HH:MM)", timeStr)
	}

	hour, _ := strconv.Atoi(matches[1])
	minute, _ := strconv.Atoi(matches[2])

	return hour, minute, nil
}

func buildCronSpec(hour, minute int) string {
	// Cron format: minute hour day month weekday
	return fmt.Sprintf("%d %d * * *", minute, hour)
}

// slogLogger routes cron's logging through slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
