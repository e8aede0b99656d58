package rota

import (
	"fmt"
	"sync"
)

// Registry holds the job definitions known to a process, in registration
// order. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	order  []Job
	byCode map[string]Job
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byCode: make(map[string]Job)}
}

// Register adds a job definition. Nil jobs, empty codes, and duplicate codes
// are rejected.
func (r *Registry) Register(job Job) error {
	if job == nil {
		return fmt.Errorf("nil job")
	}
	code := job.Code()
	if code == "" {
		return fmt.Errorf("job has an empty code")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byCode[code]; ok {
		return fmt.Errorf("job %s is already registered", code)
	}
	r.byCode[code] = job
	r.order = append(r.order, job)
	return nil
}

// MustRegister is Register for static setup; it panics on error.
func (r *Registry) MustRegister(job Job) {
	if err := r.Register(job); err != nil {
		panic(err)
	}
}

// Jobs returns the registered jobs in registration order.
func (r *Registry) Jobs() []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Job, len(r.order))
	copy(out, r.order)
	return out
}

// Get returns the job registered under code.
func (r *Registry) Get(code string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.byCode[code]
	return job, ok
}

// Codes returns the registered codes in registration order.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, len(r.order))
	for i, job := range r.order {
		codes[i] = job.Code()
	}
	return codes
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
