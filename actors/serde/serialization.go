package serde

import (
	"bytes"

	"github.com/filecoin-project/go-state-types/cbor"
	"golang.org/x/xerrors"
)

// Serializes a structure or value to CBOR.
// A nil value serializes to no bytes at all.
func Serialize(o cbor.Marshaler) ([]byte, error) {
	if o == nil {
		return nil, nil
	}
	buf := new(bytes.Buffer)
	if err := o.MarshalCBOR(buf); err != nil {
		return nil, xerrors.Errorf("failed to serialize %T: %w", o, err)
	}
	return buf.Bytes(), nil
}

func MustSerialize(o cbor.Marshaler) []byte {
	s, err := Serialize(o)
	if err != nil {
		panic(err)
	}
	return s
}

// Deserializes CBOR bytes into a value.
func Deserialize(data []byte, o cbor.Unmarshaler) error {
	if err := o.UnmarshalCBOR(bytes.NewReader(data)); err != nil {
		return xerrors.Errorf("failed to deserialize %T: %w", o, err)
	}
	return nil
}
