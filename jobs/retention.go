package jobs

import (
	"fmt"
	"time"

	"github.com/ralcott/rota"
)

// CodeLogRetention is the run-log code of the retention job.
const CodeLogRetention = "rota.log_retention"

// Purger deletes run records that started before a cutoff and reports how
// many were removed.
type Purger interface {
	PurgeRunsBefore(cutoff time.Time) (int64, error)
}

// LogRetention purges run records older than the configured number of days.
// Deletion lives here rather than in the core: the runner only ever appends,
// and pruning history is the log owner's call.
type LogRetention struct {
	purger Purger
	days   int
	every  int
}

// NewLogRetention builds the retention job from cfg. cfg.RetentionDays must
// be positive for the job to do anything useful.
func NewLogRetention(purger Purger, cfg Config) *LogRetention {
	return &LogRetention{
		purger: purger,
		days:   cfg.RetentionDays,
		every:  cfg.RetentionEveryMins,
	}
}

func (j *LogRetention) Code() string { return CodeLogRetention }

func (j *LogRetention) Schedule() rota.Schedule {
	return rota.Schedule{RunEveryMins: j.every}
}

// Do purges everything that started more than the retention window ago.
func (j *LogRetention) Do() (string, error) {
	cutoff := time.Now().AddDate(0, 0, -j.days)
	purged, err := j.purger.PurgeRunsBefore(cutoff)
	if err != nil {
		return "", fmt.Errorf("purging runs before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return fmt.Sprintf("purged %d runs older than %d days", purged, j.days), nil
}
