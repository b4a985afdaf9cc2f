package pipeline

import (
	"Go2NetSentry/internal/core/model"
	imodel "Go2NetSentry/internal/model"
	"context"
	"fmt"
	"sync"
	"time"
)

const defaultSinkQueueSize = 64

type sinkJob struct {
	ctx     context.Context
	rec     model.FeatureRecord
	verdict model.Verdict
	result  chan error
}

// sinkWorker serializes the calls to one sink. Jobs whose context ended while
// queued are skipped, so a sink that hangs holds at most one goroutine and a
// bounded queue.
type sinkWorker struct {
	sink imodel.Sink
	jobs chan sinkJob
	done chan struct{}
	once sync.Once
}

func startSinkWorker(sink imodel.Sink, queueSize int) *sinkWorker {
	w := &sinkWorker{
		sink: sink,
		jobs: make(chan sinkJob, queueSize),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *sinkWorker) run() {
	defer close(w.done)
	for job := range w.jobs {
		if err := job.ctx.Err(); err != nil {
			job.result <- err
			continue
		}
		job.result <- w.call(job)
	}
}

func (w *sinkWorker) call(job sinkJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return w.sink.Consume(job.ctx, &job.rec, job.verdict)
}

// stop closes the queue and waits for the worker. A non-positive wait blocks
// until the worker exits. It reports whether the worker finished in time.
func (w *sinkWorker) stop(wait time.Duration) bool {
	w.once.Do(func() { close(w.jobs) })
	if wait <= 0 {
		<-w.done
		return true
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-w.done:
		return true
	case <-timer.C:
		return false
	}
}
