package window

import (
	"fmt"

	"github.com/nebulastream/nebulastream-sub040/internal/buffer"
	"github.com/nebulastream/nebulastream-sub040/internal/layout"
	"github.com/nebulastream/nebulastream-sub040/internal/telemetry"
)

// TimeFunction extracts the per-record event-time timestamp used for
// slicing. A record-time function reads a field; an ingestion-time
// function stamps CreationTs at buffer-fill time. Only record-time
// extraction is needed here: ingestion time is captured once by the
// source and carried in the same timestamp field downstream.
type TimeFunction func(rec layout.Record) (int64, error)

// KeyFunction extracts the group-by key as a string, allowing composite
// keys to be encoded by the caller (e.g. fmt.Sprintf across fields).
type KeyFunction func(rec layout.Record) (string, error)

// ValueFunction extracts the input value folded into the aggregation.
type ValueFunction func(rec layout.Record) (int64, error)

// PreAggregation is the keyed, windowed pre-aggregation operator: for each
// input tuple it extracts (key, ts, value), folds value into the slice
// owning ts under key, and on watermark advance emits one output record
// per (slice, key).
//
// Grounded on original_source's KeyedSlicePreAggregation: each slice keeps
// one map per thread, so threads never write to a shared map on the
// per-tuple path. Insert still briefly takes the store-wide lock to find or
// create the tuple's slice and the slice's lock to pick the thread's map.
type PreAggregation struct {
	store    *SliceStore
	timeFn   TimeFunction
	keyFn    KeyFunction
	valueFn  ValueFunction
	agg      Aggregation
	inLayout *layout.Layout
	sink     *telemetry.Sink
}

// NewPreAggregation wires a pre-aggregation operator reading tuples under
// inLayout.
func NewPreAggregation(params Params, agg Aggregation, inLayout *layout.Layout,
	timeFn TimeFunction, keyFn KeyFunction, valueFn ValueFunction,
	sink *telemetry.Sink, hash func(string) uint64) *PreAggregation {
	return &PreAggregation{
		store:    NewSliceStore(params, agg, sink, hash),
		timeFn:   timeFn,
		keyFn:    keyFn,
		valueFn:  valueFn,
		agg:      agg,
		inLayout: inLayout,
		sink:     sink,
	}
}

// Process folds every record of buf into the slice store under thread
// shard threadID. The caller retains ownership of buf.
func (p *PreAggregation) Process(buf buffer.TupleBuffer, threadID int) error {
	it := p.inLayout.NewIterator(buf.Bytes(), buf.NumberOfTuples())
	for {
		rec, ok := it.Next()
		if !ok {
			break
		}
		if _, err := p.insertRecordThread(rec, threadID); err != nil {
			return err
		}
	}
	return nil
}

// insertRecordThread extracts (key, ts, value) from rec via the operator's
// configured functions and folds it into the slice store on shard
// threadID. Returns whether the tuple was accepted (false if dropped late).
func (p *PreAggregation) insertRecordThread(rec layout.Record, threadID int) (bool, error) {
	ts, err := p.timeFn(rec)
	if err != nil {
		return false, fmt.Errorf("preaggregation: time function: %w", err)
	}
	key, err := p.keyFn(rec)
	if err != nil {
		return false, fmt.Errorf("preaggregation: key function: %w", err)
	}
	value, err := p.valueFn(rec)
	if err != nil {
		return false, fmt.Errorf("preaggregation: value function: %w", err)
	}
	return p.store.Insert(key, value, ts, threadID), nil
}

// insertRecord is a single-threaded convenience wrapper used by tests.
func (p *PreAggregation) insertRecord(rec layout.Record, _ int64) bool {
	ok, err := p.insertRecordThread(rec, 0)
	if err != nil {
		panic(err)
	}
	return ok
}

// OutputRecord is one emitted (key, aggregate value) pair for a triggered
// window, ready to be written to an output buffer by the caller using
// whatever output layout the downstream operator expects.
type OutputRecord struct {
	WindowStart int64
	WindowEnd   int64
	Key         string
	Value       int64
}

// Trigger advances the operator's notion of watermark and returns every
// window's output records now ready to emit, releasing the underlying
// slices. Callers are expected to materialize these into output buffers
// using whatever schema/layout the downstream stage expects.
func (p *PreAggregation) Trigger(watermark int64) []OutputRecord {
	emissions := p.store.AdvanceWatermark(watermark)
	var out []OutputRecord
	for _, em := range emissions {
		em.Merged.ForEach(func(key string, partial any) {
			out = append(out, OutputRecord{
				WindowStart: em.Start,
				WindowEnd:   em.End,
				Key:         key,
				Value:       p.agg.Lower(partial),
			})
		})
		p.store.Release(em.Start)
	}
	return out
}

// OpenWindows reports the number of not-yet-triggered slices, for tests
// and diagnostics.
func (p *PreAggregation) OpenWindows() int { return p.store.OpenSliceCount() }
