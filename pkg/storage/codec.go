package storage

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Persistent backends store structured values (network configurations,
// per-user settings, badger records) as CBOR.
var (
	valueEncMode cbor.EncMode
	valueDecMode cbor.DecMode
)

func init() {
	var err error
	valueEncMode, err = cbor.EncOptions{
		Sort: cbor.SortCanonical,
		Time: cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(err)
	}
	valueDecMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// EncodeValue serializes v for storage.
func EncodeValue(v any) ([]byte, error) {
	data, err := valueEncMode.Marshal(v)
	if err != nil {
		return nil, NewError(ErrInvalidArgument, "encode value: %v", err)
	}
	return data, nil
}

// DecodeValue deserializes data produced by EncodeValue into out.
func DecodeValue(data []byte, out any) error {
	if err := valueDecMode.Unmarshal(data, out); err != nil {
		return WrapIO(err, "decode value")
	}
	return nil
}
