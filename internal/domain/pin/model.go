package pin

import (
	"fmt"
	"time"

	"github.com/qflow/qflow/internal/platform/clock"
)

// PinRecord is a clinic's daily completion code. Visitors type the code on
// the clinic kiosk to prove they were physically served before their queue
// entry is marked done.
type PinRecord struct {
	Clinic    string           `json:"clinic"`
	Code      string           `json:"code"`
	Day       clock.ServiceDay `json:"day"`
	IssuedAt  time.Time        `json:"issued_at"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// FormatCode renders a PIN number as its canonical zero-padded two-digit
// string. Verification is string-exact, so "07" and "70" never collide.
func FormatCode(n int) string {
	return fmt.Sprintf("%02d", n)
}
