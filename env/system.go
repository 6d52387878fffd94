package env

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// SystemEnvironment is the production Environment, backed by time.Now and
// crypto/rand.
type SystemEnvironment struct{}

// NewSystemEnvironment returns a SystemEnvironment. It has no state, but a
// constructor is provided to match the convention every other component
// follows (env is a parameter, not a bare struct literal strewn through
// call sites).
func NewSystemEnvironment() *SystemEnvironment {
	return &SystemEnvironment{}
}

func (SystemEnvironment) Now() time.Time { return time.Now() }

func (SystemEnvironment) WallClockSecs() uint64 { return uint64(time.Now().Unix()) }

func (SystemEnvironment) RandomBytes(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}

func (SystemEnvironment) RandomUint64() uint64 {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return binary.BigEndian.Uint64(buf[:])
}
