package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Kind tags the three shapes an inspected value can take.
type Kind uint8

const (
	KindScalar Kind = iota
	KindSequence
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	default:
		return "scalar"
	}
}

// MaxParseDepth bounds how deep ParseJSON and FromAny materialise a tree.
// Deeper subtrees are consumed and replaced by an empty truncated mapping.
const MaxParseDepth = 64

// maxQuerySegments bounds bracket nesting in query keys (a[b][c]...).
const maxQuerySegments = 32

// Field is one key/value entry of a mapping. Mappings keep insertion order.
type Field struct {
	Key   string
	Value Value
}

// Value is a tagged variant over Scalar | Sequence | Mapping. The zero Value
// is the null scalar.
type Value struct {
	kind      Kind
	scalar    interface{}
	items     []Value
	fields    []Field
	truncated bool
}

// Scalar wraps a string, json.Number, bool or nil.
func Scalar(v interface{}) Value {
	return Value{kind: KindScalar, scalar: v}
}

// String wraps s as a scalar.
func String(s string) Value {
	return Value{kind: KindScalar, scalar: s}
}

// Sequence builds an ordered sequence.
func Sequence(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindSequence, items: items}
}

// Mapping builds an ordered mapping.
func Mapping(fields ...Field) Value {
	if fields == nil {
		fields = []Field{}
	}
	return Value{kind: KindMapping, fields: fields}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsContainer() bool { return v.kind != KindScalar }

func (v Value) Items() []Value { return v.items }

func (v Value) Fields() []Field { return v.fields }

func (v Value) ScalarValue() interface{} { return v.scalar }

// Truncated reports whether the subtree was cut at MaxParseDepth.
func (v Value) Truncated() bool { return v.truncated }

// Len is the element count of a sequence or the key count of a mapping.
func (v Value) Len() int {
	switch v.kind {
	case KindSequence:
		return len(v.items)
	case KindMapping:
		return len(v.fields)
	default:
		return 0
	}
}

// Str returns the string held by a string scalar.
func (v Value) Str() (string, bool) {
	if v.kind != KindScalar {
		return "", false
	}
	s, ok := v.scalar.(string)
	return s, ok
}

// Get returns the last value stored under key in a mapping.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMapping {
		return Value{}, false
	}
	for i := len(v.fields) - 1; i >= 0; i-- {
		if v.fields[i].Key == key {
			return v.fields[i].Value, true
		}
	}
	return Value{}, false
}

// IsEmpty reports whether v is null or an empty container.
func (v Value) IsEmpty() bool {
	if v.kind == KindScalar {
		return v.scalar == nil
	}
	return v.Len() == 0
}

// SkipChildren may be returned by a WalkFunc to skip a container's children.
var SkipChildren = errors.New("skip children")

var errStopWalk = errors.New("stop walk")

// WalkFunc is called for every node in pre-order. path is a dotted location
// such as "a.b[2]"; depth is 0 for the root.
type WalkFunc func(path string, depth int, v Value) error

// Walk traverses v in pre-order. It is the single traversal used by the
// complexity scorer, the pattern matchers and the sanitizer.
func Walk(v Value, fn WalkFunc) error {
	err := walk("", 0, v, fn)
	if errors.Is(err, SkipChildren) {
		return nil
	}
	return err
}

func walk(path string, depth int, v Value, fn WalkFunc) error {
	if err := fn(path, depth, v); err != nil {
		return err
	}
	switch v.kind {
	case KindSequence:
		for i, item := range v.items {
			if err := walk(indexPath(path, i), depth+1, item, fn); err != nil && !errors.Is(err, SkipChildren) {
				return err
			}
		}
	case KindMapping:
		for _, f := range v.fields {
			if err := walk(keyPath(path, f.Key), depth+1, f.Value, fn); err != nil && !errors.Is(err, SkipChildren) {
				return err
			}
		}
	}
	return nil
}

// WalkStrings calls fn for every string scalar reachable from v and, when
// keys is set, for every mapping key. It returns true when fn stopped the
// walk by returning false.
func WalkStrings(v Value, keys bool, fn func(path, s string, isKey bool) bool) bool {
	err := Walk(v, func(path string, _ int, n Value) error {
		switch n.kind {
		case KindMapping:
			if keys {
				for _, f := range n.fields {
					if !fn(keyPath(path, f.Key), f.Key, true) {
						return errStopWalk
					}
				}
			}
		case KindScalar:
			if s, ok := n.scalar.(string); ok && !fn(path, s, false) {
				return errStopWalk
			}
		}
		return nil
	})
	return errors.Is(err, errStopWalk)
}

// Transform deep-clones v applying fn to every string scalar and every
// mapping key. changed reports whether any string was altered.
func Transform(v Value, fn func(string) string) (out Value, changed bool) {
	switch v.kind {
	case KindSequence:
		items := make([]Value, len(v.items))
		for i, item := range v.items {
			var c bool
			items[i], c = Transform(item, fn)
			changed = changed || c
		}
		return Value{kind: KindSequence, items: items, truncated: v.truncated}, changed
	case KindMapping:
		fields := make([]Field, len(v.fields))
		for i, f := range v.fields {
			key := fn(f.Key)
			val, c := Transform(f.Value, fn)
			fields[i] = Field{Key: key, Value: val}
			changed = changed || c || key != f.Key
		}
		return Value{kind: KindMapping, fields: fields, truncated: v.truncated}, changed
	default:
		if s, ok := v.scalar.(string); ok {
			t := fn(s)
			return String(t), t != s
		}
		return v, false
	}
}

func indexPath(path string, i int) string {
	return path + "[" + strconv.Itoa(i) + "]"
}

func keyPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// ParseJSON decodes data into an order-preserving Value. Numbers are kept as
// json.Number.
func ParseJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := parseValue(dec, 0)
	if err != nil {
		return Value{}, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return Value{}, fmt.Errorf("unexpected data after top-level value")
	}
	return v, nil
}

func parseValue(dec *json.Decoder, depth int) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return Scalar(tok), nil
	}

	if depth >= MaxParseDepth {
		if err := skipContainer(dec); err != nil {
			return Value{}, err
		}
		return Value{kind: KindMapping, fields: []Field{}, truncated: true}, nil
	}

	switch delim {
	case '{':
		fields := []Field{}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return Value{}, err
			}
			key, ok := keyTok.(string)
			if !ok {
				return Value{}, fmt.Errorf("invalid object key %v", keyTok)
			}
			val, err := parseValue(dec, depth+1)
			if err != nil {
				return Value{}, err
			}
			fields = append(fields, Field{Key: key, Value: val})
		}
		if _, err := dec.Token(); err != nil {
			return Value{}, err
		}
		return Mapping(fields...), nil
	case '[':
		items := []Value{}
		for dec.More() {
			val, err := parseValue(dec, depth+1)
			if err != nil {
				return Value{}, err
			}
			items = append(items, val)
		}
		if _, err := dec.Token(); err != nil {
			return Value{}, err
		}
		return Sequence(items...), nil
	default:
		return Value{}, fmt.Errorf("unexpected delimiter %q", delim)
	}
}

// skipContainer consumes tokens until the container just opened is closed.
func skipContainer(dec *json.Decoder) error {
	open := 1
	for open > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				open++
			case '}', ']':
				open--
			}
		}
	}
	return nil
}

// MarshalJSON encodes v preserving mapping order.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindSequence:
		buf.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMapping:
		buf.WriteByte('{')
		for i, f := range v.fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(f.Key)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := f.Value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		b, err := json.Marshal(v.scalar)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}

// Interface converts v back into plain Go values (map[string]interface{},
// []interface{}, scalars).
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindSequence:
		out := make([]interface{}, len(v.items))
		for i, item := range v.items {
			out[i] = item.Interface()
		}
		return out
	case KindMapping:
		out := make(map[string]interface{}, len(v.fields))
		for _, f := range v.fields {
			out[f.Key] = f.Value.Interface()
		}
		return out
	default:
		return v.scalar
	}
}

// FromAny converts decoded Go values into a Value. Map keys are sorted so the
// result is deterministic.
func FromAny(x interface{}) Value {
	return fromAny(x, 0)
}

func fromAny(x interface{}, depth int) Value {
	if depth > MaxParseDepth {
		return Value{kind: KindMapping, fields: []Field{}, truncated: true}
	}
	switch t := x.(type) {
	case nil:
		return Scalar(nil)
	case Value:
		return t
	case string:
		return String(t)
	case bool, json.Number:
		return Scalar(t)
	case float64:
		return Scalar(json.Number(strconv.FormatFloat(t, 'f', -1, 64)))
	case int:
		return Scalar(json.Number(strconv.Itoa(t)))
	case int64:
		return Scalar(json.Number(strconv.FormatInt(t, 10)))
	case []interface{}:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = fromAny(item, depth+1)
		}
		return Sequence(items...)
	case []string:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = String(item)
		}
		return Sequence(items...)
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make([]Field, len(keys))
		for i, k := range keys {
			fields[i] = Field{Key: k, Value: fromAny(t[k], depth+1)}
		}
		return Mapping(fields...)
	case map[string]string:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make([]Field, len(keys))
		for i, k := range keys {
			fields[i] = Field{Key: k, Value: String(t[k])}
		}
		return Mapping(fields...)
	default:
		return String(fmt.Sprint(t))
	}
}

// ParseQuery turns url.Values into a Mapping, expanding bracket keys
// (a[b]=1, a[]=1) into nested containers. Repeated plain keys become
// sequences.
func ParseQuery(values url.Values) Value {
	root := make(map[string]interface{})
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		segs := splitQueryKey(k)
		for _, val := range values[k] {
			insertQuery(root, segs, val)
		}
	}
	return FromAny(root)
}

func splitQueryKey(key string) []string {
	open := strings.IndexByte(key, '[')
	if open <= 0 || !strings.HasSuffix(key, "]") {
		return []string{key}
	}
	segs := []string{key[:open]}
	rest := key[open:]
	for rest != "" {
		if rest[0] != '[' || len(segs) >= maxQuerySegments {
			return []string{key}
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return []string{key}
		}
		segs = append(segs, rest[1:end])
		rest = rest[end+1:]
	}
	return segs
}

// insertQuery never drops a value: when a key is used both plain and with
// brackets, the shapes are kept side by side in a sequence.
func insertQuery(m map[string]interface{}, segs []string, val string) {
	key := segs[0]
	if len(segs) == 1 {
		m[key] = appendQuery(m[key], val)
		return
	}

	next := segs[1:]
	if next[0] == "" {
		var item interface{} = val
		if len(next) > 1 {
			child := make(map[string]interface{})
			insertQuery(child, next[1:], val)
			item = child
		}
		if m[key] == nil {
			m[key] = []interface{}{item}
		} else {
			m[key] = appendQuery(m[key], item)
		}
		return
	}

	child, ok := m[key].(map[string]interface{})
	if !ok {
		child = make(map[string]interface{})
		m[key] = appendQuery(m[key], child)
	}
	insertQuery(child, next, val)
}

func appendQuery(existing, item interface{}) interface{} {
	switch e := existing.(type) {
	case nil:
		return item
	case []interface{}:
		return append(e, item)
	default:
		return []interface{}{e, item}
	}
}

// QueryValues flattens a mapping back into url.Values using bracket notation.
// Top-level sequences of scalars become repeated keys.
func (v Value) QueryValues() url.Values {
	out := url.Values{}
	if v.kind != KindMapping {
		return out
	}
	for _, f := range v.fields {
		flattenQuery(out, f.Key, f.Value, true)
	}
	return out
}

func flattenQuery(out url.Values, prefix string, v Value, top bool) {
	switch v.kind {
	case KindMapping:
		for _, f := range v.fields {
			flattenQuery(out, prefix+"["+f.Key+"]", f.Value, false)
		}
	case KindSequence:
		for i, item := range v.items {
			switch {
			case item.kind == KindScalar && top:
				out.Add(prefix, scalarString(item))
			case item.kind == KindScalar:
				out.Add(prefix+"[]", scalarString(item))
			default:
				flattenQuery(out, prefix+"["+strconv.Itoa(i)+"]", item, false)
			}
		}
	default:
		out.Add(prefix, scalarString(v))
	}
}

func scalarString(v Value) string {
	switch t := v.scalar.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
