package xid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// Receipt returns a human-readable receipt number such as
// "BNPL-20260115-3F9A1C2B07D45E61". Uniqueness is still enforced by the
// store, which reports a collision as store.ErrReceiptTaken.
func Receipt(prefix string, at time.Time) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	// 16 hex chars, skipping the fixed version and variant nibbles of a v4 uuid.
	suffix := strings.ToUpper(raw[:12] + raw[20:24])
	return fmt.Sprintf("%s-%s-%s", prefix, at.UTC().Format("20060102"), suffix)
}
