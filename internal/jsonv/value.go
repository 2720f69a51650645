// Package jsonv holds a JSON value tree that keeps object member order and
// number literals intact, plus a bounded walker for exploring untrusted
// page state.
package jsonv

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	}
	return "unknown"
}

// Member is one key/value pair of an object, in document order.
type Member struct {
	Key   string
	Value *Value
}

// Value is a tagged union. Only the field matching Kind is meaningful.
// Values built by hand may share children or form cycles; Walk copes with
// both.
type Value struct {
	Kind    Kind
	Bool    bool
	Num     string // number literal as written
	Str     string
	Items   []*Value
	Members []Member
}

func NewString(s string) *Value { return &Value{Kind: String, Str: s} }

func NewNumber(f float64) *Value {
	return &Value{Kind: Number, Num: strconv.FormatFloat(f, 'f', -1, 64)}
}

func NewObject(members ...Member) *Value { return &Value{Kind: Object, Members: members} }

func NewArray(items ...*Value) *Value { return &Value{Kind: Array, Items: items} }

// Set appends or replaces a member on an object value.
func (v *Value) Set(key string, val *Value) {
	for i := range v.Members {
		if v.Members[i].Key == key {
			v.Members[i].Value = val
			return
		}
	}
	v.Members = append(v.Members, Member{Key: key, Value: val})
}

// Get returns the first member named key, or nil. It is nil-safe.
func (v *Value) Get(key string) *Value {
	if v == nil || v.Kind != Object {
		return nil
	}
	for _, m := range v.Members {
		if m.Key == key {
			return m.Value
		}
	}
	return nil
}

// Present reports whether v holds something other than JSON null.
func (v *Value) Present() bool {
	return v != nil && v.Kind != Null
}

// Scalar returns the textual form of a number or string value.
func (v *Value) Scalar() (string, bool) {
	if v == nil {
		return "", false
	}
	switch v.Kind {
	case Number:
		return v.Num, true
	case String:
		return v.Str, true
	}
	return "", false
}

// ErrTrailingData is returned when input holds more than one JSON value.
var ErrTrailingData = errors.New("jsonv: trailing data after value")

// Parse decodes a single JSON document.
func Parse(data []byte) (*Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decode(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, ErrTrailingData
	}
	return v, nil
}

func decode(dec *json.Decoder) (*Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch t := tok.(type) {
	case nil:
		return &Value{Kind: Null}, nil
	case bool:
		return &Value{Kind: Bool, Bool: t}, nil
	case json.Number:
		return &Value{Kind: Number, Num: t.String()}, nil
	case string:
		return &Value{Kind: String, Str: t}, nil
	case json.Delim:
		switch t {
		case '[':
			arr := &Value{Kind: Array}
			for dec.More() {
				item, err := decode(dec)
				if err != nil {
					return nil, err
				}
				arr.Items = append(arr.Items, item)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		case '{':
			obj := &Value{Kind: Object}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("jsonv: unexpected object key %v", keyTok)
				}
				val, err := decode(dec)
				if err != nil {
					return nil, err
				}
				obj.Members = append(obj.Members, Member{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return obj, nil
		}
	}
	return nil, fmt.Errorf("jsonv: unexpected token %v", tok)
}

// FromAny converts the output of encoding/json (or any similar decoder)
// into a Value. Map keys are sorted so the result is deterministic.
func FromAny(x any) *Value {
	switch t := x.(type) {
	case nil:
		return &Value{Kind: Null}
	case bool:
		return &Value{Kind: Bool, Bool: t}
	case float64:
		return NewNumber(t)
	case int:
		return &Value{Kind: Number, Num: strconv.Itoa(t)}
	case json.Number:
		return &Value{Kind: Number, Num: t.String()}
	case string:
		return NewString(t)
	case []any:
		arr := &Value{Kind: Array, Items: make([]*Value, 0, len(t))}
		for _, item := range t {
			arr.Items = append(arr.Items, FromAny(item))
		}
		return arr
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		obj := &Value{Kind: Object, Members: make([]Member, 0, len(t))}
		for _, k := range keys {
			obj.Members = append(obj.Members, Member{Key: k, Value: FromAny(t[k])})
		}
		return obj
	}
	return &Value{Kind: Null}
}

// MarshalJSON writes the value back out with member order preserved.
func (v *Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf, map[*Value]bool{}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v *Value) encode(buf *bytes.Buffer, active map[*Value]bool) error {
	if v == nil {
		buf.WriteString("null")
		return nil
	}
	if active[v] {
		return errors.New("jsonv: cycle in value")
	}

	switch v.Kind {
	case Null:
		buf.WriteString("null")
	case Bool:
		buf.WriteString(strconv.FormatBool(v.Bool))
	case Number:
		buf.WriteString(v.Num)
	case String:
		b, _ := json.Marshal(v.Str)
		buf.Write(b)
	case Array:
		active[v] = true
		buf.WriteByte('[')
		for i, item := range v.Items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf, active); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		delete(active, v)
	case Object:
		active[v] = true
		buf.WriteByte('{')
		for i, m := range v.Members {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, _ := json.Marshal(m.Key)
			buf.Write(k)
			buf.WriteByte(':')
			if err := m.Value.encode(buf, active); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		delete(active, v)
	}
	return nil
}
