package bestframe

import (
	"context"
	"image"
	"sync"

	viamutils "go.viam.com/utils"

	"go.viam.com/rdk/logging"
)

// PlateRecogniser is the external collaborator (spec.md §6): bytes-in,
// (plate_text, score) or none out.
type PlateRecogniser interface {
	Recognise(ctx context.Context, roi image.Image) (plate string, score float64, ok bool)
}

// Task is one submitted plate-recognition request.
type Task struct {
	TrackID int64
	ROI     image.Image
}

// Result is delivered once a Task completes, carrying enough to let the
// Pipeline thread apply it without touching the worker's state (spec.md §9:
// "workers get ids, results via channel").
type Result struct {
	TrackID int64
	Plate   string
	Score   float64
	Found   bool
}

// Pool is a bounded pool of N goroutines running PlateRecogniser.Recognise,
// enforcing at most one in-flight task per track (spec.md §3 invariant) by
// rejecting a Submit while a prior task for the same track id hasn't
// completed yet. Grounded on the teacher's go.viam.com/utils.ManagedGo
// goroutine-lifecycle pattern, generalized from a single worker to a fixed
// worker count draining a shared task channel.
type Pool struct {
	recogniser PlateRecogniser
	logger     logging.Logger
	tasks      chan Task
	results    chan Result
	cancelCtx  context.Context
	cancel     context.CancelFunc

	mu        sync.Mutex
	inFlight  map[int64]bool
}

// NewPool starts workers goroutines (default 4, spec.md §5) under parent.
// Results arrive on the returned Pool's Results() channel until Close.
func NewPool(parent context.Context, workers int, recogniser PlateRecogniser, logger logging.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	ctx, cancel := context.WithCancel(parent)
	p := &Pool{
		recogniser: recogniser,
		logger:     logger,
		tasks:      make(chan Task, workers*2),
		results:    make(chan Result, workers*2),
		cancelCtx:  ctx,
		cancel:     cancel,
		inFlight:   make(map[int64]bool),
	}
	for i := 0; i < workers; i++ {
		viamutils.ManagedGo(func() { p.workerLoop(ctx) }, func() {})
	}
	return p
}

func (p *Pool) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-p.tasks:
			if !ok {
				return
			}
			plate, score, found := p.recogniser.Recognise(ctx, t.ROI)
			p.mu.Lock()
			delete(p.inFlight, t.TrackID)
			p.mu.Unlock()
			select {
			case p.results <- Result{TrackID: t.TrackID, Plate: plate, Score: score, Found: found}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Submit enqueues a task for trackID's ROI. It returns false, without
// blocking, if a task for that track is already in flight or the queue is
// full (spec.md §7 ResourceExhaustion: newest item dropped, never blocks
// the Pipeline).
func (p *Pool) Submit(trackID int64, roi image.Image) bool {
	p.mu.Lock()
	if p.inFlight[trackID] {
		p.mu.Unlock()
		return false
	}
	p.inFlight[trackID] = true
	p.mu.Unlock()

	select {
	case p.tasks <- Task{TrackID: trackID, ROI: roi}:
		return true
	default:
		p.mu.Lock()
		delete(p.inFlight, trackID)
		p.mu.Unlock()
		if p.logger != nil {
			p.logger.Warnw("plate recognition queue full, dropping task", "track_id", trackID)
		}
		return false
	}
}

// Results returns the channel completions are delivered on.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Close cancels all workers and returns without waiting for them; each
// worker exits once it observes ctx.Done.
func (p *Pool) Close() {
	p.cancel()
}
