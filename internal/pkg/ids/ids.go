package ids

import "github.com/google/uuid"

// New returns "{prefix}_{uuid}". The prefix keeps ids readable in bookkeeping
// descriptions and logs; the UUID suffix makes them collision-safe.
func New(prefix string) string {
	return prefix + "_" + uuid.New().String()
}
