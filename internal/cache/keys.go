package cache

import "fmt"

func JobStateKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

func InflightSetKey(pool string) string {
	return fmt.Sprintf("inflight:%s", pool)
}

func LockKey(name string) string {
	return fmt.Sprintf("lock:%s", name)
}
