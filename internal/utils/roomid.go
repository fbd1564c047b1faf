package utils

import (
	"encoding/binary"
	"encoding/hex"
	"regexp"

	"golang.org/x/crypto/blake2b"
)

var roomIDPattern = regexp.MustCompile(`^room_[0-9a-f]{16}$`)

// DeriveRoomID maps an appointment to its consultation room identifier.
// The mapping is deterministic (one appointment, one room, forever) but
// keyed, so room identifiers cannot be guessed from appointment numbers.
func DeriveRoomID(secret []byte, appointmentID int64) string {
	if len(secret) > 64 {
		// blake2b keys max out at 64 bytes.
		k := blake2b.Sum256(secret)
		secret = k[:]
	}

	h, err := blake2b.New256(secret)
	if err != nil {
		panic(err)
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(appointmentID))
	h.Write(buf[:])

	sum := h.Sum(nil)
	return "room_" + hex.EncodeToString(sum)[:16]
}

// IsRoomID reports whether s has the shape of a derived room identifier.
func IsRoomID(s string) bool {
	return roomIDPattern.MatchString(s)
}
