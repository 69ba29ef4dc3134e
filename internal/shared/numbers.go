package shared

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewDocumentNumber generates a human readable document number such as
// DO-20260101-1A2B3C4D when the caller does not supply one.
func NewDocumentNumber(prefix string) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return prefix + "-" + time.Now().UTC().Format("20060102") + "-" + suffix
}
