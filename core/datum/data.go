package datum

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// Kind discriminates the variants of the plutus-style data encoding.
type Kind int

const (
	KindConstr Kind = iota
	KindBytes
	KindInt
	KindList
	KindMap
)

// Data is the decoded form of a self-describing datum payload. Exactly the
// fields relevant to the Kind are populated.
type Data struct {
	Kind   Kind
	Tag    uint64 // constructor index when Kind == KindConstr
	Fields []Data // constructor fields or list elements
	Bytes  []byte
	Int    *big.Int
	Pairs  []Pair
}

// Pair is a single key/value entry of a map datum.
type Pair struct {
	Key   Data
	Value Data
}

// ErrMalformed is returned when a payload is not a well-formed datum.
var ErrMalformed = errors.New("malformed datum")

// Constructor index tag ranges reserved by the on-chain data encoding.
const (
	compactTagBase    = 121  // constructors 0..6
	compactTagEnd     = 127  //
	extendedTagBase   = 1280 // constructors 7..127
	extendedTagEnd    = 1400 //
	generalConstrTag  = 102  // [index, [fields...]]
	extendedIndexBase = 7
)

// Decode parses a raw payload into the datum AST. It is pure and never
// panics on arbitrary input.
func Decode(raw []byte) (Data, error) {
	if len(raw) == 0 {
		return Data{}, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	var v interface{}
	if err := cbor.Unmarshal(raw, &v); err != nil {
		return Data{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return convert(v)
}

func convert(v interface{}) (Data, error) {
	switch t := v.(type) {
	case cbor.Tag:
		return convertTag(t)
	case []byte:
		return Data{Kind: KindBytes, Bytes: t}, nil
	case uint64:
		return Data{Kind: KindInt, Int: new(big.Int).SetUint64(t)}, nil
	case int64:
		return Data{Kind: KindInt, Int: big.NewInt(t)}, nil
	case big.Int:
		return Data{Kind: KindInt, Int: new(big.Int).Set(&t)}, nil
	case []interface{}:
		fields, err := convertList(t)
		if err != nil {
			return Data{}, err
		}
		return Data{Kind: KindList, Fields: fields}, nil
	case map[interface{}]interface{}:
		pairs := make([]Pair, 0, len(t))
		for k, val := range t {
			key, err := convert(k)
			if err != nil {
				return Data{}, err
			}
			value, err := convert(val)
			if err != nil {
				return Data{}, err
			}
			pairs = append(pairs, Pair{Key: key, Value: value})
		}
		return Data{Kind: KindMap, Pairs: pairs}, nil
	default:
		return Data{}, fmt.Errorf("%w: unsupported element %T", ErrMalformed, v)
	}
}

func convertTag(t cbor.Tag) (Data, error) {
	switch {
	case t.Number >= compactTagBase && t.Number <= compactTagEnd:
		fields, err := tagFields(t.Content)
		if err != nil {
			return Data{}, err
		}
		return Data{Kind: KindConstr, Tag: t.Number - compactTagBase, Fields: fields}, nil
	case t.Number >= extendedTagBase && t.Number <= extendedTagEnd:
		fields, err := tagFields(t.Content)
		if err != nil {
			return Data{}, err
		}
		return Data{Kind: KindConstr, Tag: t.Number - extendedTagBase + extendedIndexBase, Fields: fields}, nil
	case t.Number == generalConstrTag:
		pair, ok := t.Content.([]interface{})
		if !ok || len(pair) != 2 {
			return Data{}, fmt.Errorf("%w: general constructor shape", ErrMalformed)
		}
		index, ok := asUint(pair[0])
		if !ok {
			return Data{}, fmt.Errorf("%w: general constructor index", ErrMalformed)
		}
		raw, ok := pair[1].([]interface{})
		if !ok {
			return Data{}, fmt.Errorf("%w: general constructor fields", ErrMalformed)
		}
		fields, err := convertList(raw)
		if err != nil {
			return Data{}, err
		}
		return Data{Kind: KindConstr, Tag: index, Fields: fields}, nil
	default:
		// Bignum and other semantic tags: fold into the content.
		return convert(t.Content)
	}
}

func tagFields(content interface{}) ([]Data, error) {
	raw, ok := content.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: constructor fields must be a list", ErrMalformed)
	}
	return convertList(raw)
}

func convertList(raw []interface{}) ([]Data, error) {
	fields := make([]Data, 0, len(raw))
	for _, item := range raw {
		d, err := convert(item)
		if err != nil {
			return nil, err
		}
		fields = append(fields, d)
	}
	return fields, nil
}

func asUint(v interface{}) (uint64, bool) {
	switch t := v.(type) {
	case uint64:
		return t, true
	case int64:
		if t < 0 {
			return 0, false
		}
		return uint64(t), true
	default:
		return 0, false
	}
}
