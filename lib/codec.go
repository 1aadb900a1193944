package lib

import (
	"encoding/json"

	"github.com/fxamacker/cbor/v2"
)

/*
	This file implements the canonical codec for the node. Sign-bytes, content hashes, and
	persisted records all use deterministic CBOR so that any two nodes encode the same
	structure to the same bytes. JSON is reserved for the external query surface.
*/

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// core deterministic encoding: sorted map keys, shortest-form integers
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Marshal() serializes a structure into deterministic canonical bytes
func Marshal(message any) ([]byte, ErrorI) {
	bz, err := encMode.Marshal(message)
	if err != nil {
		return nil, ErrMarshal(err)
	}
	return bz, nil
}

// Unmarshal() deserializes canonical bytes into the structure
func Unmarshal(data []byte, ptr any) ErrorI {
	if err := decMode.Unmarshal(data, ptr); err != nil {
		return ErrUnmarshal(err)
	}
	return nil
}

// MarshalJSON() serializes a structure into JSON bytes
func MarshalJSON(message any) ([]byte, ErrorI) {
	bz, err := json.Marshal(message)
	if err != nil {
		return nil, ErrJSONMarshal(err)
	}
	return bz, nil
}

// MarshalJSONIndent() serializes a structure into indented JSON bytes
func MarshalJSONIndent(message any) ([]byte, ErrorI) {
	bz, err := json.MarshalIndent(message, "", "  ")
	if err != nil {
		return nil, ErrJSONMarshal(err)
	}
	return bz, nil
}

// UnmarshalJSON() deserializes JSON bytes into the structure
func UnmarshalJSON(data []byte, ptr any) ErrorI {
	if err := json.Unmarshal(data, ptr); err != nil {
		return ErrJSONUnmarshal(err)
	}
	return nil
}
