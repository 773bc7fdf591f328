// Package jobid generates time-ordered job identifiers. ULIDs sort
// lexicographically by creation time, which keeps per-user job listings in
// submission order without a secondary sequence.
package jobid

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	mu      sync.Mutex
)

// New returns a new lowercase ULID. Safe for concurrent use; IDs produced
// within the same millisecond remain monotonically increasing.
func New() string {
	mu.Lock()
	defer mu.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Now(), entropy).String())
}

// Valid reports whether s parses as a ULID.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(strings.ToUpper(s))
	return err == nil
}
