package application

import (
	"hash/fnv"
	"strconv"
	"time"
)

const (
	// backoffJitterBound caps the identity-seeded offset added on top of
	// the exponential term, in seconds.
	backoffJitterBound = 10

	// backoffJitterWindow is the coarse time bucket the jitter is stable
	// within. Devices re-disperse every window without a delay ever
	// moving backwards inside one.
	backoffJitterWindow = 10 * time.Minute
)

// BackoffDelay maps (retry count, identity seed, wall-clock time) to a
// bounded retry delay: base*2^retry plus a per-identity jitter, capped at
// max. The jitter is a keyed hash of the identity and the current time
// bucket, so a fleet recovering from a shared outage spreads out instead of
// retrying in lockstep, while a single device stays deterministic within a
// window.
func BackoffDelay(base, max time.Duration, retryCount uint32, identitySeed string, now time.Time) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}

	// Guard the shift: past ~2^32 the exponential term is beyond any
	// sane max anyway.
	if retryCount > 31 {
		return max
	}
	exp := base << retryCount
	if exp <= 0 || exp > max {
		return max
	}

	jitter := time.Duration(identityJitter(identitySeed, now)) * time.Second
	delay := exp + jitter
	if delay > max {
		delay = max
	}
	return delay
}

// identityJitter is a bounded offset in [0, backoffJitterBound) derived from
// the identity seed and the current time bucket. It deliberately does not
// depend on retry count, which keeps BackoffDelay non-decreasing in the
// retry count for free.
func identityJitter(identitySeed string, now time.Time) uint64 {
	if identitySeed == "" {
		return 0
	}
	bucket := now.Unix() / int64(backoffJitterWindow/time.Second)

	h := fnv.New64a()
	h.Write([]byte(identitySeed))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatInt(bucket, 10)))
	return h.Sum64() % backoffJitterBound
}

// DeriveIdentitySeed extracts the stable per-device seed from a client
// identifier. Client IDs carry the device MAC as their 12-character suffix;
// shorter identifiers are used whole.
func DeriveIdentitySeed(clientID string) string {
	const macSuffixLen = 12
	if len(clientID) >= macSuffixLen {
		return clientID[len(clientID)-macSuffixLen:]
	}
	return clientID
}
