package encoder

import (
	"context"
	"sync"
	"time"

	"semsearch/internal/errkind"
)

// Batcher owns all access to the wrapped encoder: a single worker goroutine
// issues model calls, so concurrent callers can never overlap on the shared
// model resource. Requests arriving within the coalescing window are merged
// into one multi-text invocation, up to MaxBatch texts per call.
type Batcher struct {
	enc Encoder

	window     time.Duration
	maxBatch   int
	timeout    time.Duration
	maxTextLen int

	reqs    chan *batchReq
	quit    chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

type batchReq struct {
	texts []string
	out   [][]float32
	err   error
	done  chan struct{}
}

type BatcherOptions struct {
	Window     time.Duration // coalescing window after the first pending request
	MaxBatch   int           // max texts per model invocation
	Timeout    time.Duration // deadline for one model invocation
	MaxTextLen int           // validation bound, checked before admission
	QueueDepth int           // pending requests admitted before callers block
}

func NewBatcher(enc Encoder, opts BatcherOptions) *Batcher {
	if opts.Window <= 0 {
		opts.Window = 10 * time.Millisecond
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = 32
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 256
	}
	b := &Batcher{
		enc:        enc,
		window:     opts.Window,
		maxBatch:   opts.MaxBatch,
		timeout:    opts.Timeout,
		maxTextLen: opts.MaxTextLen,
		reqs:       make(chan *batchReq, opts.QueueDepth),
		quit:       make(chan struct{}),
	}
	b.wg.Add(1)
	go b.worker()
	return b
}

func (b *Batcher) Dimension() int { return b.enc.Dimension() }

// Encode validates, then waits for admission and for the batch carrying this
// request to complete. A caller whose context expires while waiting gets a
// timeout error; the batch itself still finishes and its result is discarded.
func (b *Batcher) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ValidateTexts(texts, b.maxTextLen); err != nil {
		return nil, err
	}
	r := &batchReq{texts: texts, done: make(chan struct{})}
	select {
	case b.reqs <- r:
	case <-b.quit:
		return nil, errkind.New(errkind.ModelUnavailable, "encoder is shut down")
	case <-ctx.Done():
		return nil, errkind.Wrap(errkind.Timeout, ctx.Err(), "waiting for encoder admission")
	}
	select {
	case <-r.done:
		return r.out, r.err
	case <-ctx.Done():
		return nil, errkind.Wrap(errkind.Timeout, ctx.Err(), "waiting for encode result")
	}
}

func (b *Batcher) worker() {
	defer b.wg.Done()
	for {
		select {
		case first := <-b.reqs:
			b.serve(b.collect(first))
		case <-b.quit:
			// fail whatever is still queued
			for {
				select {
				case r := <-b.reqs:
					r.err = errkind.New(errkind.ModelUnavailable, "encoder is shut down")
					close(r.done)
				default:
					return
				}
			}
		}
	}
}

// collect gathers requests for one model invocation: the first request plus
// anything arriving within the window, bounded by maxBatch texts.
func (b *Batcher) collect(first *batchReq) []*batchReq {
	batch := []*batchReq{first}
	total := len(first.texts)
	timer := time.NewTimer(b.window)
	defer timer.Stop()
	for total < b.maxBatch {
		select {
		case r := <-b.reqs:
			batch = append(batch, r)
			total += len(r.texts)
		case <-timer.C:
			return batch
		case <-b.quit:
			return batch
		}
	}
	return batch
}

func (b *Batcher) serve(batch []*batchReq) {
	texts := make([]string, 0, len(batch))
	for _, r := range batch {
		texts = append(texts, r.texts...)
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	vecs, err := b.enc.Encode(ctx, texts)
	cancel()
	if err == nil && len(vecs) != len(texts) {
		err = errkind.New(errkind.ModelUnavailable, "encoder returned %d vectors for %d texts", len(vecs), len(texts))
	}
	off := 0
	for _, r := range batch {
		if err != nil {
			r.err = err
		} else {
			r.out = vecs[off : off+len(r.texts)]
		}
		off += len(r.texts)
		close(r.done)
	}
}

// Close stops the worker. In-flight model calls finish first.
func (b *Batcher) Close() {
	b.stopped.Do(func() { close(b.quit) })
	b.wg.Wait()
}

var _ Encoder = (*Batcher)(nil)
