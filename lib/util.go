package lib

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"time"
)

// HexBytes represents a byte slice that is marshaled and unmarshalled as hex strings
type HexBytes []byte

// NewHexBytesFromString() converts a hexadecimal string into HexBytes
func NewHexBytesFromString(s string) (HexBytes, ErrorI) {
	bz, err := hex.DecodeString(s)
	if err != nil {
		return nil, ErrJSONUnmarshal(err)
	}
	return bz, nil
}

// String() returns the HexBytes as a hexadecimal string
func (x HexBytes) String() string {
	return BytesToString(x)
}

// MarshalJSON() serializes the HexBytes to a JSON byte slice
func (x HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(BytesToString(x))
}

// UnmarshalJSON() deserializes a JSON byte slice into HexBytes
func (x *HexBytes) UnmarshalJSON(b []byte) (err error) {
	var s string
	if err = json.Unmarshal(b, &s); err != nil {
		return err
	}
	*x, err = hex.DecodeString(s)
	return
}

// BytesToString() converts a byte slice into a hexadecimal string
func BytesToString(b []byte) string {
	return hex.EncodeToString(b)
}

// BytesToTruncatedString() converts a byte slice into a shortened hexadecimal string for logs
func BytesToTruncatedString(b []byte) string {
	if len(b) > 10 {
		return hex.EncodeToString(b[:10])
	}
	return hex.EncodeToString(b)
}

// StringToBytes() converts a hexadecimal string into a byte slice
func StringToBytes(s string) ([]byte, ErrorI) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, ErrJSONUnmarshal(err)
	}
	return b, nil
}

// Uint64ToBytes() converts an unsigned 64 bit integer into big endian bytes
func Uint64ToBytes(v uint64) []byte {
	bz := make([]byte, 8)
	binary.BigEndian.PutUint64(bz, v)
	return bz
}

// BytesToUint64() converts big endian bytes into an unsigned 64 bit integer
func BytesToUint64(bz []byte) uint64 {
	if len(bz) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(bz)
}

// NewTimer() creates a new 'stopped' timer, as Go lacks this functionality natively
func NewTimer() (timer *time.Timer) {
	timer = time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	return
}

// ResetTimer() stops and resets a timer to the given duration
func ResetTimer(t *time.Timer, d time.Duration) {
	StopTimer(t)
	t.Reset(d)
}

// StopTimer() stops the timer and drains the channel if needed
func StopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
