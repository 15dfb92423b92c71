// --------------------------------------------------------------------------------
// Author: Thomas F McGeehan V
//
// This file is part of a software project developed by Thomas F McGeehan V.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//
// For more information about the MIT License, please visit:
// https://opensource.org/licenses/MIT
//
// Acknowledgment appreciated but not required.
// --------------------------------------------------------------------------------

// Package migration runs long-lived transform jobs that move namespaces to
// a new destination, with a Bearer-gated control plane exposing start,
// status, cancel, and list. Cancellation is cooperative: a
// running job polls its cancel flag between namespaces.
package migration

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/arrowarc/parquedb/internal/parqerr"
)

// JobStatus is a job's lifecycle state.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusCancelled JobStatus = "cancelled"
	StatusFailed    JobStatus = "failed"
)

// Job is one migration: namespaces moving to a destination.
type Job struct {
	ID         string    `json:"id"`
	To         string    `json:"to"`
	Namespaces []string  `json:"namespaces"`
	Status     JobStatus `json:"status"`
	Completed  []string  `json:"completed,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (j *Job) clone() *Job {
	cp := *j
	cp.Namespaces = append([]string(nil), j.Namespaces...)
	cp.Completed = append([]string(nil), j.Completed...)
	return &cp
}

// Transform moves one namespace to the destination named in the start
// request. The coordinator calls it serially per job.
type Transform func(ctx context.Context, ns, to string) error

// Coordinator owns jobs and their cooperative cancellation flags.
type Coordinator struct {
	transform Transform
	logger    log.Logger

	mu     sync.Mutex
	jobs   map[string]*Job
	cancel map[string]bool
}

// NewCoordinator builds a Coordinator running transform for each
// namespace. logger nil means no logging.
func NewCoordinator(transform Transform, logger log.Logger) *Coordinator {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Coordinator{
		transform: transform,
		logger:    logger,
		jobs:      make(map[string]*Job),
		cancel:    make(map[string]bool),
	}
}

// Start registers a job and runs it in the background.
func (c *Coordinator) Start(ctx context.Context, to string, namespaces []string) (*Job, error) {
	if to == "" {
		return nil, parqerr.New(parqerr.KindInvalidInput, "migration destination is required")
	}
	if len(namespaces) == 0 {
		return nil, parqerr.New(parqerr.KindInvalidInput, "at least one namespace is required")
	}

	now := time.Now().UTC()
	job := &Job{
		ID:         uuid.NewString(),
		To:         to,
		Namespaces: append([]string(nil), namespaces...),
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	c.mu.Lock()
	c.jobs[job.ID] = job
	snapshot := job.clone()
	c.mu.Unlock()

	go c.run(ctx, job.ID)
	return snapshot, nil
}

func (c *Coordinator) run(ctx context.Context, id string) {
	c.setStatus(id, StatusRunning, "")

	c.mu.Lock()
	job := c.jobs[id]
	namespaces := append([]string(nil), job.Namespaces...)
	to := job.To
	c.mu.Unlock()

	for _, ns := range namespaces {
		// Cooperative cancellation: polled between namespaces.
		c.mu.Lock()
		cancelled := c.cancel[id]
		c.mu.Unlock()
		if cancelled || ctx.Err() != nil {
			c.setStatus(id, StatusCancelled, "")
			level.Info(c.logger).Log("msg", "migration cancelled", "job", id)
			return
		}

		if err := c.transform(ctx, ns, to); err != nil {
			c.setStatus(id, StatusFailed, err.Error())
			level.Error(c.logger).Log("msg", "migration failed", "job", id, "ns", ns, "err", err)
			return
		}

		c.mu.Lock()
		job.Completed = append(job.Completed, ns)
		job.UpdatedAt = time.Now().UTC()
		c.mu.Unlock()
	}
	c.setStatus(id, StatusCompleted, "")
	level.Info(c.logger).Log("msg", "migration completed", "job", id, "namespaces", len(namespaces))
}

func (c *Coordinator) setStatus(id string, status JobStatus, errMsg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if job, ok := c.jobs[id]; ok {
		job.Status = status
		job.Error = errMsg
		job.UpdatedAt = time.Now().UTC()
	}
}

// Status returns the job, or a NotFound error.
func (c *Coordinator) Status(id string) (*Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[id]
	if !ok {
		return nil, parqerr.New(parqerr.KindNotFound, "migration job %s not found", id)
	}
	return job.clone(), nil
}

// Cancel raises the job's cancel flag. The running job observes it at its
// next namespace boundary. Cancelling a finished job is a no-op.
func (c *Coordinator) Cancel(id string) (*Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[id]
	if !ok {
		return nil, parqerr.New(parqerr.KindNotFound, "migration job %s not found", id)
	}
	if job.Status == StatusPending || job.Status == StatusRunning {
		c.cancel[id] = true
	}
	return job.clone(), nil
}

// List returns every job, newest first.
func (c *Coordinator) List() []*Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Job, 0, len(c.jobs))
	for _, job := range c.jobs {
		out = append(out, job.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
