package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"goa.design/clue/log"

	"moodcam/internal/emotion"
	"moodcam/internal/report"
)

// Sampler performs one sampling attempt. Implementations must not fail: a
// failed attempt is reported as a sentinel outcome.
type Sampler interface {
	Sample(ctx context.Context) emotion.Outcome
}

// worker owns the sampling loop of exactly one session, from spawn to report
// persistence. It is the only writer of its sample buffer and of its report.
type worker struct {
	id       string
	cfg      Config
	registry *Registry
	sampler  Sampler
	store    report.Store
	notify   func(id string)

	mu        sync.Mutex
	startedAt time.Time
	data      []report.Sample
	degraded  int
}

func newWorker(id string, cfg Config, registry *Registry, sampler Sampler, store report.Store, notify func(string)) *worker {
	return &worker{
		id:       id,
		cfg:      cfg,
		registry: registry,
		sampler:  sampler,
		store:    store,
		notify:   notify,
	}
}

// run samples until the duration elapses or a stop is requested, then
// persists the report. The finalize step runs even if the loop panics.
func (w *worker) run(ctx context.Context) {
	ctx = log.With(ctx, log.KV{K: "session", V: w.id})
	start := time.Now().UTC()
	w.mu.Lock()
	w.startedAt = start
	w.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			log.Error(ctx, fmt.Errorf("recorder panic: %v", r))
		}
		w.finalize(ctx, start)
	}()

	log.Info(ctx, log.KV{K: "msg", V: "recording started"},
		log.KV{K: "duration", V: w.cfg.Duration.String()}, log.KV{K: "interval", V: w.cfg.Interval.String()})
	w.loop(ctx, start)
}

func (w *worker) loop(ctx context.Context, start time.Time) {
	stop, err := w.registry.StopSignal(w.id)
	if err != nil {
		return
	}

	var deadline time.Time
	if w.cfg.Duration > 0 {
		deadline = start.Add(w.cfg.Duration)
	}

	next := start
	for {
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return
		}
		if requested, err := w.registry.StopRequested(w.id); err != nil || requested {
			return
		}

		w.record(w.sample(ctx))

		// Instants are anchored at start so drift does not accumulate; a
		// sample that overran its slot is followed immediately.
		next = next.Add(w.cfg.Interval)
		now := time.Now()
		if next.Before(now) {
			next = now
		}
		wake := next
		if !deadline.IsZero() && deadline.Before(wake) {
			wake = deadline
		}

		timer := time.NewTimer(wake.Sub(now))
		select {
		case <-stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// sample calls the sampler once. A panic becomes a sentinel outcome.
func (w *worker) sample(ctx context.Context) (out emotion.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = emotion.Outcome{
				Detection: emotion.Detection{Label: emotion.LabelNone},
				Kind:      emotion.OutcomeFailed,
				At:        time.Now().UTC(),
				Err:       fmt.Errorf("sampler panic: %v", r),
			}
		}
	}()
	return w.sampler.Sample(ctx)
}

func (w *worker) record(out emotion.Outcome) {
	w.mu.Lock()
	w.data = append(w.data, report.NewSample(out))
	if !out.OK() {
		w.degraded++
	}
	n := len(w.data)
	w.mu.Unlock()

	w.registry.SetSampleCount(w.id, n)
}

// snapshot returns the report as it would look if the session ended now.
func (w *worker) snapshot(end time.Time) report.Report {
	w.mu.Lock()
	defer w.mu.Unlock()

	data := make([]report.Sample, len(w.data))
	copy(data, w.data)
	return report.Report{
		ID: w.id,
		Meta: report.Meta{
			DurationRequested: w.cfg.Duration.Seconds(),
			Interval:          w.cfg.Interval.Seconds(),
			StartedAt:         w.startedAt,
			EndedAt:           end,
			SampleCount:       len(data),
		},
		GeneratedAt: end,
		Data:        data,
	}
}

func (w *worker) finalize(ctx context.Context, start time.Time) {
	defer w.notify(w.id)

	end := time.Now().UTC()
	rep := w.snapshot(end)
	rep.Meta.StartedAt = start

	// persist even when the process context is already cancelled
	location, err := w.store.Save(context.WithoutCancel(ctx), rep)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "report write failed"})
		if merr := w.registry.MarkFailed(w.id, fmt.Errorf("save report: %w", err)); merr != nil {
			log.Error(ctx, merr)
		}
		return
	}
	if err := w.registry.MarkStopped(w.id, location); err != nil {
		log.Error(ctx, err)
		return
	}

	w.mu.Lock()
	degraded := w.degraded
	w.mu.Unlock()
	log.Info(ctx, log.KV{K: "msg", V: "recording stopped"},
		log.KV{K: "samples", V: rep.Meta.SampleCount}, log.KV{K: "degraded", V: degraded},
		log.KV{K: "location", V: location})
}
