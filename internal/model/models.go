package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DatasetKind tags a record with the dataset it belongs to.
type DatasetKind string

const (
	KindFinancial DatasetKind = "financial"
	KindProduct   DatasetKind = "product"
)

// ValueType is the dynamic type carried by a Value.
type ValueType int

const (
	TypeNull ValueType = iota
	TypeNumber
	TypeString
)

// Value is a typed field value: a fixed-point number, a string, or null.
type Value struct {
	Type ValueType
	Num  decimal.Decimal
	Str  string
}

func Null() Value { return Value{Type: TypeNull} }
func Number(d decimal.Decimal) Value { return Value{Type: TypeNumber, Num: d} }
func Int(i int64) Value { return Number(decimal.NewFromInt(i)) }
func String(s string) Value { return Value{Type: TypeString, Str: s} }
func (v Value) IsNull() bool { return v.Type == TypeNull }
func (v Value) IsNumber() bool { return v.Type == TypeNumber }
func (v Value) Decimal() decimal.Decimal { return v.Num }

// Text returns the lexical form of the value; numbers print in their
// shortest exact form and null prints as the empty string.
func (v Value) Text() string {
	switch v.Type {
	case TypeNumber:
		return v.Num.String()
	case TypeString:
		return v.Str
	default:
		return ""
	}
}

func (v Value) String() string {
	if v.Type == TypeNull {
		return "null"
	}
	return v.Text()
}

// Equal compares numbers by value, so 1.50 equals 1.5.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case TypeNumber:
		return v.Num.Equal(o.Num)
	case TypeString:
		return v.Str == o.Str
	default:
		return true
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Type {
	case TypeNumber:
		return []byte(v.Num.String()), nil
	case TypeString:
		return json.Marshal(v.Str)
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Null()
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
	case 't', 'f':
		*v = String(string(data))
	case '{', '[':
		return fmt.Errorf("unsupported nested value %s", truncate(string(data), 32))
	default:
		d, err := decimal.NewFromString(string(data))
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", string(data), err)
		}
		*v = Number(d)
	}
	return nil
}

// Field is one named value inside a Record.
type Field struct {
	Name  string
	Value Value
}

// Record is an ordered mapping of field name to value. It is immutable:
// every method that changes content returns a new Record.
type Record struct {
	Kind   DatasetKind
	fields []Field
}

// NewRecord copies fields into a new Record. A repeated name keeps its
// first position and takes the last value.
func NewRecord(kind DatasetKind, fields ...Field) Record {
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		replaced := false
		for i := range out {
			if out[i].Name == f.Name {
				out[i].Value = f.Value
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, f)
		}
	}
	return Record{Kind: kind, fields: out}
}

func (r Record) Len() int { return len(r.fields) }

// Fields returns a copy of the fields in order.
func (r Record) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

func (r Record) Get(name string) (Value, bool) {
	for _, f := range r.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Null(), false
}

// Text returns the lexical form of a field, or "" when absent or null.
func (r Record) Text(name string) string {
	v, _ := r.Get(name)
	return v.Text()
}

// With returns a copy of r with name set to v. New fields are appended.
func (r Record) With(name string, v Value) Record {
	out := make([]Field, len(r.fields), len(r.fields)+1)
	copy(out, r.fields)
	for i := range out {
		if out[i].Name == name {
			out[i].Value = v
			return Record{Kind: r.Kind, fields: out}
		}
	}
	return Record{Kind: r.Kind, fields: append(out, Field{Name: name, Value: v})}
}

func (r Record) WithKind(kind DatasetKind) Record {
	return Record{Kind: kind, fields: r.fields}
}

// Equal reports whether both records have the same kind and the same
// fields in the same order with equal values.
func (r Record) Equal(o Record) bool {
	if r.Kind != o.Kind || len(r.fields) != len(o.fields) {
		return false
	}
	for i := range r.fields {
		if r.fields[i].Name != o.fields[i].Name || !r.fields[i].Value.Equal(o.fields[i].Value) {
			return false
		}
	}
	return true
}

// MarshalJSON writes the record as an object whose keys keep field order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		val, err := f.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object preserving key order. Kind is left to the
// enclosing Batch.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("record: expected object, got %v", tok)
	}
	var fields []Field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("record: expected field name, got %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("record: field %q: %w", name, err)
		}
		var v Value
		if err := v.UnmarshalJSON(raw); err != nil {
			return fmt.Errorf("record: field %q: %w", name, err)
		}
		fields = append(fields, Field{Name: name, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*r = NewRecord(r.Kind, fields...)
	return nil
}

// Batch is the unit of movement between stages: an ordered run of
// records of one kind. IngestedAt is kept out of the serialized form so
// identical inputs checkpoint to identical bytes; the run manifest keeps
// the timestamp instead.
type Batch struct {
	Kind        DatasetKind `json:"kind"`
	Source      string      `json:"source"`
	IngestedAt  time.Time   `json:"-"`
	RecordCount int         `json:"record_count"`
	Records     []Record    `json:"records"`
}

func NewBatch(kind DatasetKind, source string, at time.Time, records []Record) Batch {
	tagged := make([]Record, len(records))
	for i, r := range records {
		tagged[i] = r.WithKind(kind)
	}
	return Batch{Kind: kind, Source: source, IngestedAt: at, RecordCount: len(tagged), Records: tagged}
}

func (b Batch) Count() int { return len(b.Records) }

func (b *Batch) UnmarshalJSON(data []byte) error {
	type plain Batch
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	for i := range p.Records {
		p.Records[i] = p.Records[i].WithKind(p.Kind)
	}
	*b = Batch(p)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "..."
}
