// Package quota implements daily call quota tracking for the Korean
// public data portal. Each service key has a daily request allowance
// that resets at midnight KST; the portal reports an exhausted quota
// with result code 22 on every further call. The tracker counts calls
// and remembers exhaustion so the client can stop burning attempts on
// a key that cannot succeed until the next day.
package quota

import (
	"time"
)

// Redis key prefixes for quota state storage. The current KST day in
// yyyymmdd form is appended, e.g. "qnet:quota:calls:20250823". Keys
// carry a TTL so past days clean themselves up.
const (
	RedisKeyCallsPrefix     = "qnet:quota:calls:"
	RedisKeyExhaustedPrefix = "qnet:quota:exhausted:"
)

// keyTTL keeps a day's counters around long enough to survive the KST
// midnight boundary plus a full day of reads.
const keyTTL = 48 * time.Hour

// kst is the fixed portal timezone. Quota windows follow Korean civil
// time regardless of where this process runs.
var kst = time.FixedZone("KST", 9*60*60)

// DayKey returns the yyyymmdd day bucket for a point in time, in KST.
func DayKey(t time.Time) string {
	return t.In(kst).Format("20060102")
}

// State represents the quota usage for one KST day.
// This state is shared across all client instances via Redis.
type State struct {
	// Day is the KST day bucket this state describes, yyyymmdd.
	Day string `json:"day"`

	// CallsUsed is the number of upstream calls recorded today.
	CallsUsed int `json:"calls_used"`

	// Exhausted is set once the portal reports result code 22.
	// It stays set until the KST day rolls over.
	Exhausted bool `json:"exhausted"`
}

// TimeUntilReset returns the duration until the next KST midnight, when
// the portal grants a fresh allowance.
func (s *State) TimeUntilReset(now time.Time) time.Duration {
	local := now.In(kst)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, kst).AddDate(0, 0, 1)
	return midnight.Sub(local)
}
