package window

// Aggregation is the small, concrete aggregation-plugin interface replacing
// the KeyType x InputType x PartialType x FinalType compile-time matrix
// (spec.md §9): plugins are dispatched by name at plan-build time against
// a physical input type, not expanded at compile time.
//
// Partial is the running aggregate state kept in a slice's value map;
// Final is what gets written to the output buffer on trigger.
type Aggregation interface {
	Name() string
	InitialPartial() any
	// Lift folds one input value into the running partial state.
	Lift(partial any, input int64) any
	// Combine merges two partial states from different thread shards.
	Combine(a, b any) any
	// Lower converts a partial state into its final output value.
	Lower(partial any) int64
}

// SumAggregation implements SUM(field).
type SumAggregation struct{}

func (SumAggregation) Name() string            { return "SUM" }
func (SumAggregation) InitialPartial() any      { return int64(0) }
func (SumAggregation) Lift(p any, v int64) any  { return p.(int64) + v }
func (SumAggregation) Combine(a, b any) any     { return a.(int64) + b.(int64) }
func (SumAggregation) Lower(p any) int64        { return p.(int64) }

// CountAggregation implements COUNT(*).
type CountAggregation struct{}

func (CountAggregation) Name() string           { return "COUNT" }
func (CountAggregation) InitialPartial() any     { return int64(0) }
func (CountAggregation) Lift(p any, _ int64) any { return p.(int64) + 1 }
func (CountAggregation) Combine(a, b any) any    { return a.(int64) + b.(int64) }
func (CountAggregation) Lower(p any) int64       { return p.(int64) }

// MinAggregation implements MIN(field).
type MinAggregation struct{}

func (MinAggregation) Name() string { return "MIN" }
func (MinAggregation) InitialPartial() any { return int64(1)<<63 - 1 }
func (MinAggregation) Lift(p any, v int64) any {
	if v < p.(int64) {
		return v
	}
	return p
}
func (MinAggregation) Combine(a, b any) any {
	if a.(int64) < b.(int64) {
		return a
	}
	return b
}
func (MinAggregation) Lower(p any) int64 { return p.(int64) }

// MaxAggregation implements MAX(field).
type MaxAggregation struct{}

func (MaxAggregation) Name() string { return "MAX" }
func (MaxAggregation) InitialPartial() any { return int64(-1) << 63 }
func (MaxAggregation) Lift(p any, v int64) any {
	if v > p.(int64) {
		return v
	}
	return p
}
func (MaxAggregation) Combine(a, b any) any {
	if a.(int64) > b.(int64) {
		return a
	}
	return b
}
func (MaxAggregation) Lower(p any) int64 { return p.(int64) }
