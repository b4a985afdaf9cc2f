package pipeline

import (
	"Go2NetSentry/internal/core/model"
	"Go2NetSentry/internal/engine/features"
	"Go2NetSentry/internal/engine/filter"
	imodel "Go2NetSentry/internal/model"
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync/atomic"
)

// Result is the outcome of processing one packet.
type Result struct {
	Record  model.FeatureRecord
	Verdict model.Verdict
	// Forwarded is false when the drop policy kept the record from the sinks.
	Forwarded bool
	// DecodeErr reports a partial decode. The record is still complete.
	DecodeErr error
}

// Stats are the pipeline counters since it was created.
type Stats struct {
	Processed    uint64            `json:"processed"`
	Forwarded    uint64            `json:"forwarded"`
	Suppressed   uint64            `json:"suppressed"`
	DecodeErrors uint64            `json:"decode_errors"`
	SinkFailures uint64            `json:"sink_failures"`
	Verdicts     map[string]uint64 `json:"verdicts"`
}

// Pipeline runs decode, feature extraction, filtering and sink forwarding
// for each packet. Close must not run concurrently with Process.
type Pipeline struct {
	extractor *features.Extractor
	chain     *filter.Chain
	sinks     []*sinkWorker
	opts      Options

	processed    atomic.Uint64
	forwarded    atomic.Uint64
	suppressed   atomic.Uint64
	decodeErrors atomic.Uint64
	sinkFailures atomic.Uint64
	verdicts     [model.NumReasons]atomic.Uint64
}

// New creates a pipeline. Sinks are called in the given order, each from its
// own goroutine.
func New(extractor *features.Extractor, chain *filter.Chain, sinks []imodel.Sink, opts Options) *Pipeline {
	if opts.Policy == "" {
		opts.Policy = PolicyObserve
	}
	if opts.SinkQueueSize <= 0 {
		opts.SinkQueueSize = defaultSinkQueueSize
	}
	p := &Pipeline{
		extractor: extractor,
		chain:     chain,
		opts:      opts,
	}
	for _, sink := range sinks {
		p.sinks = append(p.sinks, startSinkWorker(sink, opts.SinkQueueSize))
	}
	return p
}

// Process handles one raw packet. It never fails: decode problems are
// reported in the result, sink problems are logged and counted.
func (p *Pipeline) Process(ctx context.Context, raw model.RawPacket) Result {
	rec, err := p.extractor.ExtractPacket(raw)
	if err != nil {
		p.decodeErrors.Add(1)
		if p.opts.Metrics != nil {
			p.opts.Metrics.DecodeErrors.Inc()
		}
		if p.opts.Verbosity >= VerbosityDetailed {
			log.Printf("Packet at %s decoded partially: %v", raw.Timestamp.Format("15:04:05.000"), err)
		}
	}

	verdict := p.chain.Evaluate(&rec)
	n := p.processed.Add(1)
	p.verdicts[verdict.Reason].Add(1)
	if p.opts.Metrics != nil {
		p.opts.Metrics.ObserveRecord(&rec, verdict)
	}

	if verdict.Rejected() && p.opts.Verbosity >= VerbosityDetailed {
		log.Printf("Packet %s -> %s (%s, %d bytes, entropy %.2f) %s",
			endpoint(rec.SrcIP, rec.SrcPort), endpoint(rec.DstIP, rec.DstPort),
			rec.Protocol, rec.Length, rec.Entropy, verdict)
	}
	if p.opts.Verbosity >= VerbosityBasic && p.opts.ProgressEvery > 0 && n%p.opts.ProgressEvery == 0 {
		log.Printf("%d packets processed, %d rejected.", n, n-p.verdicts[model.ReasonNone].Load())
	}

	res := Result{Record: rec, Verdict: verdict, DecodeErr: err}
	if verdict.Rejected() && p.opts.Policy == PolicyDrop {
		p.suppressed.Add(1)
		if p.opts.Metrics != nil {
			p.opts.Metrics.Suppressed.Inc()
		}
		return res
	}

	p.forward(ctx, &res.Record, verdict)
	p.forwarded.Add(1)
	res.Forwarded = true
	return res
}

func (p *Pipeline) forward(ctx context.Context, rec *model.FeatureRecord, verdict model.Verdict) {
	for _, w := range p.sinks {
		if err := p.consume(ctx, w, rec, verdict); err != nil {
			p.sinkFailures.Add(1)
			if p.opts.Metrics != nil {
				p.opts.Metrics.SinkFailures.WithLabelValues(w.sink.Name()).Inc()
			}
			log.Printf("Sink '%s' failed for flow %s: %v", w.sink.Name(), rec.FlowID, err)
		}
	}
}

var (
	errSinkTimeout = errors.New("sink timed out")
	errSinkBacklog = errors.New("sink queue full")
)

// consume hands the record to the sink's worker and waits for the result. A
// sink that panics, outlives the sink timeout or has a full queue fails only
// this call.
func (p *Pipeline) consume(ctx context.Context, w *sinkWorker, rec *model.FeatureRecord, verdict model.Verdict) error {
	if p.opts.SinkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.SinkTimeout)
		defer cancel()
	}

	job := sinkJob{ctx: ctx, rec: *rec, verdict: verdict, result: make(chan error, 1)}
	select {
	case w.jobs <- job:
	default:
		return errSinkBacklog
	}

	select {
	case err := <-job.result:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errSinkTimeout
		}
		return ctx.Err()
	}
}

// Stats returns a copy of the counters.
func (p *Pipeline) Stats() Stats {
	s := Stats{
		Processed:    p.processed.Load(),
		Forwarded:    p.forwarded.Load(),
		Suppressed:   p.suppressed.Load(),
		DecodeErrors: p.decodeErrors.Load(),
		SinkFailures: p.sinkFailures.Load(),
		Verdicts:     make(map[string]uint64, len(p.verdicts)),
	}
	for i := range p.verdicts {
		s.Verdicts[model.Reason(i).String()] = p.verdicts[i].Load()
	}
	return s
}

// Close stops the sink workers and closes every sink, returning the first
// error. A worker stuck in a sink is waited for at most the sink timeout.
func (p *Pipeline) Close() error {
	var first error
	for _, w := range p.sinks {
		if !w.stop(p.opts.SinkTimeout) {
			log.Printf("Sink '%s' still busy at close, closing it anyway", w.sink.Name())
		}
		if err := w.sink.Close(); err != nil {
			log.Printf("Error closing sink '%s': %v", w.sink.Name(), err)
			if first == nil {
				first = fmt.Errorf("close sink %s: %w", w.sink.Name(), err)
			}
		}
	}
	return first
}

func endpoint(ip string, port *uint16) string {
	if ip == "" {
		ip = "-"
	}
	if port == nil {
		return ip
	}
	return ip + ":" + strconv.Itoa(int(*port))
}
