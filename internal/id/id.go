package id

import (
	"crypto/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const orderAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// New returns a random identifier for sessions and attempts.
func New() string {
	return uuid.NewString()
}

// OrderID formats an order number as ORD-<unix ms>-<9 upper alphanumerics>.
func OrderID(now time.Time) string {
	var b [9]byte
	if _, err := rand.Read(b[:]); err != nil {
		copy(b[:], uuid.New().String())
	}
	suffix := make([]byte, len(b))
	for i, v := range b {
		suffix[i] = orderAlphabet[int(v)%len(orderAlphabet)]
	}
	return "ORD-" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + string(suffix)
}
