package rota

// Job is a periodic job definition: a stable identifying code, the schedule
// describing when it wants to run, and the work itself.
type Job interface {
	// Code returns the job's stable unique identifier, used as the join key
	// in the run log.
	Code() string

	// Schedule returns when the job wants to run.
	Schedule() Schedule

	// Do performs one run and returns a short status message. Returning an
	// error marks the run failed; the error text becomes the record message.
	Do() (string, error)
}

// NewJob builds a Job from a function, for jobs with no state of their own.
func NewJob(code string, schedule Schedule, do func() (string, error)) Job {
	return &funcJob{code: code, schedule: schedule, do: do}
}

type funcJob struct {
	code     string
	schedule Schedule
	do       func() (string, error)
}

func (j *funcJob) Code() string        { return j.code }
func (j *funcJob) Schedule() Schedule  { return j.schedule }
func (j *funcJob) Do() (string, error) { return j.do() }
