package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"edusched/src-server/engine"
)

const HORIZON_TIMEOUT = 10 * time.Minute

// Extender is the part of the engine the horizon job drives.
type Extender interface {
	ExtendHorizon(ctx context.Context, tenantID string) (engine.ExtendResult, error)
}

// HorizonJob keeps every recurring series materialised up to the horizon.
// Runs never overlap; a tick that lands while a run is in flight is dropped.
type HorizonJob struct {
	ctx     context.Context
	ext     Extender
	running atomic.Bool
	runs    atomic.Int64
}

func NewHorizonJob(ctx context.Context, ext Extender) *HorizonJob {
	return &HorizonJob{ctx: ctx, ext: ext}
}

// Run implements cron.Job.
func (j *HorizonJob) Run() {
	if !j.running.CompareAndSwap(false, true) {
		slog.Warn("HorizonJob: previous run still in progress, skipping")
		return
	}
	defer j.running.Store(false)
	if j.ctx.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(j.ctx, HORIZON_TIMEOUT)
	defer cancel()
	startTimer := time.Now()
	res, err := j.ext.ExtendHorizon(ctx, "")
	j.runs.Add(1)
	if err != nil {
		slog.Error("HorizonJob: can't extend horizon", "error", err, "took", time.Since(startTimer))
		return
	}
	slog.Debug("HorizonJob: done", "events", res.Events, "instances", res.Instances, "skipped", res.Skipped, "took", time.Since(startTimer))
}

// Runs is how many runs have finished, successfully or not.
func (j *HorizonJob) Runs() int64 {
	return j.runs.Load()
}

// StartHorizon schedules job on spec, a standard five-field cron expression
// read in loc, and kicks off one run straight away. Stop the returned cron
// to end it.
func StartHorizon(job *HorizonJob, spec string, loc *time.Location) (*cron.Cron, error) {
	if loc == nil {
		loc = time.UTC
	}
	c := cron.New(
		cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithLocation(loc),
	)
	if _, err := c.AddJob(strings.TrimSpace(spec), job); err != nil {
		return nil, fmt.Errorf("StartHorizon: %w", err)
	}
	c.Start()
	go job.Run()
	slog.Info("horizon job scheduled", "cron", spec, "tz", loc.String())
	return c, nil
}
