package validation

// MaxMeasuredDepth is the circuit breaker of the complexity scorer. Subtrees
// deeper than this report Depth == MaxMeasuredDepth and contribute no fields.
const MaxMeasuredDepth = 50

// Measurement is the nesting depth and field count of a body tree.
type Measurement struct {
	Depth      int `json:"depth"`
	FieldCount int `json:"fieldCount"`
}

// Measure scores v in a single pass. A container contributes its element or
// key count to FieldCount; Depth is the deepest container level reached,
// the root being level 0.
func Measure(v Value) Measurement {
	var m Measurement
	_ = Walk(v, func(_ string, depth int, n Value) error {
		if !n.IsContainer() {
			// Scalars only report their own level when they are the root.
			return nil
		}
		if depth > MaxMeasuredDepth {
			if m.Depth < MaxMeasuredDepth {
				m.Depth = MaxMeasuredDepth
			}
			return SkipChildren
		}
		m.FieldCount += n.Len()
		if depth > m.Depth {
			m.Depth = depth
		}
		return nil
	})
	return m
}
