// Package auth holds the credential primitives: password hashing and signed
// session tokens.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmptyPassword   = errors.New("password cannot be empty")
	ErrMalformedHash   = errors.New("malformed password hash")
	ErrUnsupportedHash = errors.New("unsupported password hash algorithm")
)

// HashScheme is one password hashing algorithm. Every encoded hash carries the
// tag of the scheme that produced it, which is how PasswordHasher picks the
// verifier.
type HashScheme interface {
	Tags() []string
	Hash(password string) (string, error)
	Verify(password string, encoded string) (bool, error)
	// IsCurrent reports whether encoded was produced with this scheme's
	// present parameters.
	IsCurrent(encoded string) bool
}

// PasswordHasher hashes with a primary scheme and verifies against any
// registered one.
type PasswordHasher struct {
	primary HashScheme
	schemes map[string]HashScheme
}

func NewPasswordHasher(primary HashScheme, legacy ...HashScheme) *PasswordHasher {
	h := &PasswordHasher{primary: primary, schemes: map[string]HashScheme{}}
	for _, scheme := range legacy {
		h.register(scheme)
	}
	h.register(primary)
	return h
}

// NewDefaultPasswordHasher hashes with argon2id and still accepts bcrypt hashes
// from older accounts.
func NewDefaultPasswordHasher() *PasswordHasher {
	return NewPasswordHasher(NewArgon2id(DefaultArgon2idParams()), NewBcrypt(bcrypt.DefaultCost))
}

func (h *PasswordHasher) register(scheme HashScheme) {
	for _, tag := range scheme.Tags() {
		h.schemes[tag] = scheme
	}
}

func (h *PasswordHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	return h.primary.Hash(password)
}

// Verify returns (false, nil) on mismatch and an error only when the stored
// hash cannot be interpreted.
func (h *PasswordHasher) Verify(password string, encoded string) (bool, error) {
	scheme, err := h.schemeFor(encoded)
	if err != nil {
		return false, err
	}
	return scheme.Verify(password, encoded)
}

// NeedsRehash reports whether encoded should be replaced by a fresh primary hash.
func (h *PasswordHasher) NeedsRehash(encoded string) bool {
	tag, err := hashTag(encoded)
	if err != nil {
		return true
	}
	for _, primaryTag := range h.primary.Tags() {
		if tag == primaryTag {
			return !h.primary.IsCurrent(encoded)
		}
	}
	return true
}

func (h *PasswordHasher) schemeFor(encoded string) (HashScheme, error) {
	tag, err := hashTag(encoded)
	if err != nil {
		return nil, err
	}
	scheme, ok := h.schemes[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedHash, tag)
	}
	return scheme, nil
}

// hashTag extracts the algorithm identifier from "$<tag>$...".
func hashTag(encoded string) (string, error) {
	if !strings.HasPrefix(encoded, "$") {
		return "", ErrMalformedHash
	}
	tag, _, found := strings.Cut(encoded[1:], "$")
	if !found || tag == "" {
		return "", ErrMalformedHash
	}
	return tag, nil
}

type Argon2idParams struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2idParams follows the OWASP password storage recommendation.
func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Memory:      64 * 1024,
		Iterations:  1,
		Parallelism: 4,
		SaltLength:  16,
		KeyLength:   32,
	}
}

type Argon2id struct {
	params Argon2idParams
}

func NewArgon2id(params Argon2idParams) *Argon2id {
	return &Argon2id{params: params}
}

func (a *Argon2id) Tags() []string {
	return []string{"argon2id"}
}

func (a *Argon2id) Hash(password string) (string, error) {
	salt := make([]byte, a.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, a.params.Iterations, a.params.Memory, a.params.Parallelism, a.params.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		a.params.Memory,
		a.params.Iterations,
		a.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (a *Argon2id) Verify(password string, encoded string) (bool, error) {
	params, salt, key, err := decodeArgon2id(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)
	return subtle.ConstantTimeCompare(key, computed) == 1, nil
}

func (a *Argon2id) IsCurrent(encoded string) bool {
	params, salt, _, err := decodeArgon2id(encoded)
	if err != nil {
		return false
	}
	return params.Memory == a.params.Memory &&
		params.Iterations == a.params.Iterations &&
		params.Parallelism == a.params.Parallelism &&
		params.KeyLength == a.params.KeyLength &&
		uint32(len(salt)) == a.params.SaltLength
}

func decodeArgon2id(encoded string) (Argon2idParams, []byte, []byte, error) {
	var params Argon2idParams

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return params, nil, nil, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return params, nil, nil, fmt.Errorf("%w: version: %v", ErrMalformedHash, err)
	}
	if version != argon2.Version {
		return params, nil, nil, fmt.Errorf("%w: argon2 version %d", ErrUnsupportedHash, version)
	}

	var memory, iterations, parallelism uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return params, nil, nil, fmt.Errorf("%w: parameters: %v", ErrMalformedHash, err)
	}
	if parallelism == 0 || parallelism > 255 || iterations == 0 {
		return params, nil, nil, fmt.Errorf("%w: parameters out of range", ErrMalformedHash)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return params, nil, nil, fmt.Errorf("%w: salt: %v", ErrMalformedHash, err)
	}

	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return params, nil, nil, fmt.Errorf("%w: key: %v", ErrMalformedHash, err)
	}
	if len(key) == 0 || len(key) > 1024 {
		return params, nil, nil, fmt.Errorf("%w: key length %d", ErrMalformedHash, len(key))
	}

	params = Argon2idParams{
		Memory:      memory,
		Iterations:  iterations,
		Parallelism: uint8(parallelism),
		SaltLength:  uint32(len(salt)),
		KeyLength:   uint32(len(key)),
	}
	return params, salt, key, nil
}

// Bcrypt verifies hashes written before the move to argon2id. It can also be
// the primary scheme.
type Bcrypt struct {
	cost int
}

func NewBcrypt(cost int) *Bcrypt {
	return &Bcrypt{cost: cost}
}

func (b *Bcrypt) Tags() []string {
	return []string{"2a", "2b", "2y"}
}

func (b *Bcrypt) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func (b *Bcrypt) Verify(password string, encoded string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
}

func (b *Bcrypt) IsCurrent(encoded string) bool {
	cost, err := bcrypt.Cost([]byte(encoded))
	return err == nil && cost == b.cost
}
