package cborcodec

import "github.com/fxamacker/cbor/v2"

// Kind identifies which variant of Value is populated, a tagged sum type
// over CBOR's dynamically typed items.
type Kind int

const (
	KindInvalid Kind = iota
	KindUint
	KindNint
	KindBytes
	KindText
	KindArray
	KindMap
	KindTag
	KindBool
	KindNull
	KindFloat
)

// Value is a generic decoded CBOR item, for code that needs to inspect an
// item's shape without knowing it ahead of time. Most of this module's types
// decode directly into Go structs instead, and diagnostics' attribute listing
// carries the element's decoded interface{} value rather than a Value; Value
// exists for the generic fallback path.
type Value struct {
	Kind    Kind
	Uint    uint64
	Nint    int64
	Bytes   []byte
	Text    string
	Array   []Value
	Map     []MapEntry
	TagNum  uint64
	TagItem *Value
	Bool    bool
	Float   float64
}

// MapEntry is one key/value pair of a decoded Value map. DecodeValue builds
// the entries by ranging over a Go map, so their order is not the encoded
// order and may differ between calls.
type MapEntry struct {
	Key   Value
	Value Value
}

// DecodeValue decodes data into a Value tree.
func DecodeValue(data []byte) (Value, error) {
	var raw interface{}
	if err := Unmarshal(data, &raw); err != nil {
		return Value{}, err
	}
	return fromInterface(raw), nil
}

func fromInterface(raw interface{}) Value {
	switch v := raw.(type) {
	case uint64:
		return Value{Kind: KindUint, Uint: v}
	case int64:
		return Value{Kind: KindNint, Nint: v}
	case []byte:
		return Value{Kind: KindBytes, Bytes: v}
	case string:
		return Value{Kind: KindText, Text: v}
	case bool:
		return Value{Kind: KindBool, Bool: v}
	case float64:
		return Value{Kind: KindFloat, Float: v}
	case nil:
		return Value{Kind: KindNull}
	case []interface{}:
		arr := make([]Value, 0, len(v))
		for _, item := range v {
			arr = append(arr, fromInterface(item))
		}
		return Value{Kind: KindArray, Array: arr}
	case cbor.Tag:
		item := fromInterface(v.Content)
		return Value{Kind: KindTag, TagNum: v.Number, TagItem: &item}
	case map[interface{}]interface{}:
		entries := make([]MapEntry, 0, len(v))
		for k, val := range v {
			entries = append(entries, MapEntry{Key: fromInterface(k), Value: fromInterface(val)})
		}
		return Value{Kind: KindMap, Map: entries}
	default:
		return Value{Kind: KindInvalid}
	}
}
