package password

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Params controls Argon2id cost. MemoryKiB is in KiB as argon2.IDKey expects.
type Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds accepted passwords. MaxLength also caps hashing cost per request.
type Policy struct {
	MinLength      int
	MaxLength      int
	RejectVeryWeak bool
}

// Hasher hashes and verifies passwords.
type Hasher struct {
	Params Params
	Policy Policy
}

// DefaultHasher returns interactive-login settings: 64 MiB, 3 passes.
func DefaultHasher() Hasher {
	threads := runtime.NumCPU()
	if threads < 1 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}
	return Hasher{
		Params: Params{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4].
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 8,
			MaxLength: 255,
		},
	}
}

// LoadHasherFromEnv applies CODETALK_PASSWORD_* and CODETALK_ARGON2_* overrides.
func LoadHasherFromEnv() (Hasher, error) {
	h := DefaultHasher()

	ints := []struct {
		key      string
		min, max int
		dst      func(int)
	}{
		{"CODETALK_PASSWORD_MIN_LEN", 1, 1024, func(n int) { h.Policy.MinLength = n }},
		{"CODETALK_PASSWORD_MAX_LEN", 1, 4096, func(n int) { h.Policy.MaxLength = n }},
		{"CODETALK_ARGON2_MEMORY_KIB", 8 * 1024, 1024 * 1024, func(n int) { h.Params.MemoryKiB = uint32(n) }}, // #nosec G115 -- range checked.
		{"CODETALK_ARGON2_ITERATIONS", 1, 20, func(n int) { h.Params.Iterations = uint32(n) }},                // #nosec G115 -- range checked.
		{"CODETALK_ARGON2_PARALLELISM", 1, 64, func(n int) { h.Params.Parallelism = uint8(n) }},                // #nosec G115 -- range checked.
	}
	for _, it := range ints {
		v, ok := os.LookupEnv(it.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return Hasher{}, fmt.Errorf("%s: not an integer", it.key)
		}
		if n < it.min || n > it.max {
			return Hasher{}, fmt.Errorf("%s: out of range [%d..%d]", it.key, it.min, it.max)
		}
		it.dst(n)
	}

	if v, ok := os.LookupEnv("CODETALK_PASSWORD_REJECT_VERY_WEAK"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return Hasher{}, fmt.Errorf("CODETALK_PASSWORD_REJECT_VERY_WEAK: %w", err)
		}
		h.Policy.RejectVeryWeak = b
	}

	if h.Policy.MinLength > h.Policy.MaxLength {
		return Hasher{}, fmt.Errorf("password policy invalid: min_len(%d) > max_len(%d)", h.Policy.MinLength, h.Policy.MaxLength)
	}
	return h, nil
}
