package password

import (
	"errors"
	"strings"
	"testing"
)

// cheapHasher keeps argon2 cost low so the suite stays fast.
func cheapHasher() Hasher {
	h := DefaultHasher()
	h.Params.MemoryKiB = 8 * 1024
	h.Params.Iterations = 1
	h.Params.Parallelism = 1
	return h
}

func TestHashAndVerify(t *testing.T) {
	t.Parallel()

	h := cheapHasher()
	enc, err := h.Hash("correct horse battery")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(enc, "$argon2id$v=19$") {
		t.Fatalf("unexpected encoding: %q", enc)
	}

	ok, err := h.Verify(enc, "correct horse battery")
	if err != nil || !ok {
		t.Fatalf("Verify match: ok=%v err=%v", ok, err)
	}

	ok, err = h.Verify(enc, "wrong horse battery")
	if err != nil || ok {
		t.Fatalf("Verify mismatch: ok=%v err=%v", ok, err)
	}
}

func TestVerify_RejectsMalformedAndCostlyHashes(t *testing.T) {
	t.Parallel()

	h := cheapHasher()
	cases := []string{
		"",
		"not-a-hash",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=999999,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$a2V5a2V5a2V5a2V5a2V5a2V5",
	}
	for _, enc := range cases {
		ok, err := h.Verify(enc, "whatever-password")
		if !errors.Is(err, ErrInvalidHash) || ok {
			t.Fatalf("Verify(%q) = %v, %v; want false, ErrInvalidHash", enc, ok, err)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	h := DefaultHasher()
	h.Policy.RejectVeryWeak = true

	cases := []struct {
		in   string
		want error
	}{
		{in: "short", want: ErrPasswordTooShort},
		{in: strings.Repeat("x", 256), want: ErrPasswordTooLong},
		{in: "password", want: ErrWeakPassword},
		{in: "aaaaaaaaaa", want: ErrWeakPassword},
		{in: "12345678901", want: ErrWeakPassword},
		{in: "a-very-ok-pass", want: nil},
	}
	for _, tc := range cases {
		if err := h.Validate(tc.in); !errors.Is(err, tc.want) {
			t.Fatalf("Validate(%q)=%v want %v", tc.in, err, tc.want)
		}
	}
}

func TestLoadHasherFromEnv(t *testing.T) {
	t.Setenv("CODETALK_PASSWORD_MIN_LEN", "10")
	t.Setenv("CODETALK_ARGON2_ITERATIONS", "2")

	h, err := LoadHasherFromEnv()
	if err != nil {
		t.Fatalf("LoadHasherFromEnv: %v", err)
	}
	if h.Policy.MinLength != 10 || h.Params.Iterations != 2 {
		t.Fatalf("overrides not applied: %+v", h)
	}

	t.Setenv("CODETALK_PASSWORD_MAX_LEN", "5")
	if _, err := LoadHasherFromEnv(); err == nil {
		t.Fatalf("expected error for min > max")
	}
}
