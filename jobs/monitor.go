package jobs

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ralcott/rota"
)

// CodeFailureMonitor is the run-log code of the failure monitor.
const CodeFailureMonitor = "rota.failure_monitor"

// StreakReader reads how many runs of a code have failed since its last
// success.
type StreakReader interface {
	FailureStreak(code string) (int, error)
}

// CodeLister lists the job codes to watch. The registry satisfies it.
type CodeLister interface {
	Codes() []string
}

// FailureMonitor checks the failure streak of every registered job except
// itself and warns when a streak reaches the threshold. Records are never
// mutated, so re-running the monitor warns again until the job recovers; the
// streak resets on the next success.
type FailureMonitor struct {
	streaks   StreakReader
	codes     CodeLister
	threshold int
	every     int
	logger    *slog.Logger
}

// NewFailureMonitor builds the monitor from cfg, watching the codes listed
// by codes. A nil logger discards the warnings, leaving only the run
// message.
func NewFailureMonitor(streaks StreakReader, codes CodeLister, cfg Config, logger *slog.Logger) *FailureMonitor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FailureMonitor{
		streaks:   streaks,
		codes:     codes,
		threshold: cfg.FailedRunsThreshold,
		every:     cfg.FailedRunsEveryMins,
		logger:    logger,
	}
}

func (j *FailureMonitor) Code() string { return CodeFailureMonitor }

func (j *FailureMonitor) Schedule() rota.Schedule {
	return rota.Schedule{RunEveryMins: j.every}
}

// Do reads every watched code's streak and reports the ones at or past the
// threshold.
func (j *FailureMonitor) Do() (string, error) {
	var failing []string
	checked := 0
	for _, code := range j.codes.Codes() {
		if code == CodeFailureMonitor {
			continue
		}
		checked++

		streak, err := j.streaks.FailureStreak(code)
		if err != nil {
			return "", fmt.Errorf("reading failure streak for %s: %w", code, err)
		}
		if streak < j.threshold {
			continue
		}

		j.logger.Warn("job failing repeatedly",
			"code", code,
			"streak", streak,
			"threshold", j.threshold)
		failing = append(failing, fmt.Sprintf("%s (%d)", code, streak))
	}

	if len(failing) == 0 {
		return fmt.Sprintf("checked %d jobs, none at failure threshold", checked), nil
	}
	return fmt.Sprintf("checked %d jobs, %d at failure threshold: %s",
		checked, len(failing), strings.Join(failing, ", ")), nil
}
