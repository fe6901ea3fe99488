package grid

import (
	"context"
	"sync"

	"weatherdesk/internal/types"
)

// Result is the outcome of one sampling run.
type Result struct {
	Generation uint64
	Focal      types.Coordinate
	Property   types.Property
	Points     []types.GridPoint
	Err        error
}

// View keeps the lattice for a changing focal point and property. Each Update
// supersedes the previous one: the older run is cancelled and, should it
// still finish, its result is dropped because its generation is stale. After
// Close no result is delivered.
type View struct {
	sampler  *Sampler
	onResult func(Result)

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	latest Result
	have   bool
	closed bool
	wg     sync.WaitGroup
}

// NewView creates a View. onResult may be nil; it runs with the view's lock
// held and must not call back into the View.
func NewView(sampler *Sampler, onResult func(Result)) *View {
	return &View{sampler: sampler, onResult: onResult}
}

// Update starts a full resample for focal and property and returns its
// generation. It returns 0 once the view is closed.
func (v *View) Update(ctx context.Context, focal types.Coordinate, property types.Property) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return 0
	}
	if v.cancel != nil {
		v.cancel()
	}
	v.gen++
	gen := v.gen
	runCtx, cancel := context.WithCancel(ctx)
	v.cancel = cancel

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		defer cancel()
		points, err := v.sampler.Sample(runCtx, focal, property)
		v.deliver(Result{
			Generation: gen,
			Focal:      focal,
			Property:   property,
			Points:     points,
			Err:        err,
		})
	}()
	return gen
}

func (v *View) deliver(r Result) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || r.Generation != v.gen {
		return
	}
	v.latest = r
	v.have = true
	if v.onResult != nil {
		v.onResult(r)
	}
}

// Latest returns the most recent current-generation result.
func (v *View) Latest() (Result, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.latest, v.have
}

// Close cancels any in-flight run and waits for it to return.
func (v *View) Close() {
	v.mu.Lock()
	v.closed = true
	if v.cancel != nil {
		v.cancel()
	}
	v.mu.Unlock()
	v.wg.Wait()
}
