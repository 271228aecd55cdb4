package suite

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// value is the codec's document model. Objects keep their members in
// input-document order, which is what makes the MessagePack re-encoding
// stable across round trips.
//
// A value is one of: object, array, string, int64, uint64, float64,
// json.Number, bool, nil.
type value any

type object []member

type member struct {
	key string
	val value
}

func (o object) lookup(key string) (value, bool) {
	for _, m := range o {
		if m.key == key {
			return m.val, true
		}
	}
	return nil, false
}

// parseJSON decodes a JSON document into the ordered document model.
func parseJSON(data []byte) (value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeJSONValue(dec)
	if err != nil {
		return nil, err
	}
	// anything after the document is garbage
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("trailing data after JSON document")
	}
	return v, nil
}

func decodeJSONValue(dec *json.Decoder) (value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			var obj object
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("object key is not a string: %v", keyTok)
				}
				val, err := decodeJSONValue(dec)
				if err != nil {
					return nil, err
				}
				obj = append(obj, member{key: key, val: val})
			}
			if _, err := dec.Token(); err != nil { // closing brace
				return nil, err
			}
			return obj, nil
		case '[':
			arr := []value{}
			for dec.More() {
				item, err := decodeJSONValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, item)
			}
			if _, err := dec.Token(); err != nil { // closing bracket
				return nil, err
			}
			return arr, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	case string, bool, json.Number, nil:
		return t, nil
	}
	return nil, fmt.Errorf("unexpected JSON token %v", tok)
}

// encodeJSON re-emits the document model as UTF-8 JSON without BOM.
func encodeJSON(v value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSONValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSONValue(buf *bytes.Buffer, v value) error {
	switch t := v.(type) {
	case object:
		buf.WriteByte('{')
		for i, m := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyJSON, err := json.Marshal(m.key)
			if err != nil {
				return err
			}
			buf.Write(keyJSON)
			buf.WriteByte(':')
			if err := writeJSONValue(buf, m.val); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []value:
		buf.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSONValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case json.Number:
		buf.WriteString(t.String())
	case string:
		strJSON, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(strJSON)
	case int64:
		buf.WriteString(strconv.FormatInt(t, 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(t, 10))
	case float64:
		numJSON, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(numJSON)
	case bool:
		buf.WriteString(strconv.FormatBool(t))
	case nil:
		buf.WriteString("null")
	default:
		return fmt.Errorf("cannot encode %T as JSON", v)
	}
	return nil
}

// encodeMsgpack serializes the document model as MessagePack,
// preserving object member order.
func encodeMsgpack(v value) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := writeMsgpackValue(enc, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeMsgpackValue(enc *msgpack.Encoder, v value) error {
	switch t := v.(type) {
	case object:
		if err := enc.EncodeMapLen(len(t)); err != nil {
			return err
		}
		for _, m := range t {
			if err := enc.EncodeString(m.key); err != nil {
				return err
			}
			if err := writeMsgpackValue(enc, m.val); err != nil {
				return err
			}
		}
		return nil
	case []value:
		if err := enc.EncodeArrayLen(len(t)); err != nil {
			return err
		}
		for _, item := range t {
			if err := writeMsgpackValue(enc, item); err != nil {
				return err
			}
		}
		return nil
	case json.Number:
		return writeMsgpackNumber(enc, t)
	case string:
		return enc.EncodeString(t)
	case int64:
		return enc.EncodeInt(t)
	case uint64:
		return enc.EncodeUint(t)
	case float64:
		return enc.EncodeFloat64(t)
	case bool:
		return enc.EncodeBool(t)
	case nil:
		return enc.EncodeNil()
	}
	return fmt.Errorf("cannot encode %T as MessagePack", v)
}

func writeMsgpackNumber(enc *msgpack.Encoder, n json.Number) error {
	if i, err := n.Int64(); err == nil {
		return enc.EncodeInt(i)
	}
	if u, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
		return enc.EncodeUint(u)
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("unrepresentable number %q: %w", n.String(), err)
	}
	return enc.EncodeFloat64(f)
}

// parseMsgpack decodes a MessagePack document into the ordered model.
func parseMsgpack(data []byte) (value, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	return decodeMsgpackValue(dec)
}

func decodeMsgpackValue(dec *msgpack.Decoder) (value, error) {
	code, err := dec.PeekCode()
	if err != nil {
		return nil, err
	}
	switch {
	case msgpcode.IsFixedMap(code) || code == msgpcode.Map16 || code == msgpcode.Map32:
		n, err := dec.DecodeMapLen()
		if err != nil {
			return nil, err
		}
		obj := make(object, 0, n)
		for range n {
			key, err := dec.DecodeString()
			if err != nil {
				return nil, fmt.Errorf("map key: %w", err)
			}
			val, err := decodeMsgpackValue(dec)
			if err != nil {
				return nil, err
			}
			obj = append(obj, member{key: key, val: val})
		}
		return obj, nil
	case msgpcode.IsFixedArray(code) || code == msgpcode.Array16 || code == msgpcode.Array32:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return nil, err
		}
		arr := make([]value, 0, n)
		for range n {
			item, err := decodeMsgpackValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, item)
		}
		return arr, nil
	case msgpcode.IsString(code):
		return dec.DecodeString()
	case code == msgpcode.Nil:
		return nil, dec.DecodeNil()
	case code == msgpcode.True || code == msgpcode.False:
		return dec.DecodeBool()
	case code == msgpcode.Float || code == msgpcode.Double:
		f, err := dec.DecodeFloat64()
		if err != nil {
			return nil, err
		}
		return normalizeFloat(f), nil
	case code == msgpcode.Uint64:
		return dec.DecodeUint64()
	case msgpcode.IsFixedNum(code) ||
		code == msgpcode.Int8 || code == msgpcode.Int16 || code == msgpcode.Int32 || code == msgpcode.Int64 ||
		code == msgpcode.Uint8 || code == msgpcode.Uint16 || code == msgpcode.Uint32:
		return dec.DecodeInt64()
	}
	return nil, fmt.Errorf("unsupported MessagePack code 0x%02x", code)
}

// normalizeFloat keeps integral floats integral so that a document
// round-tripped through MessagePack stays structurally equal.
func normalizeFloat(f float64) value {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}
