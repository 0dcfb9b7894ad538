package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters used for new hashes. Verification reads the
// parameters from the stored hash, so raising them later stays compatible.
const (
	argonTime    = 3         // iterations
	argonMemory  = 64 * 1024 // 64 MiB
	argonThreads = 1         // parallelism
	argonKeyLen  = 32        // output hash length
	argonSaltLen = 16        // salt length
)

// HashPassword hashes a plaintext password using Argon2id and returns it
// in PHC string format: $argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}

	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword checks a plaintext password against an Argon2id PHC hash string.
// Returns true if the password matches.
func VerifyPassword(password, encodedHash string) (bool, error) {
	p, err := decodePHC(encodedHash)
	if err != nil {
		return false, err
	}

	candidate := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.threads, uint32(len(p.hash))) //nolint:gosec // G115: hash length always fits uint32

	return subtle.ConstantTimeCompare(p.hash, candidate) == 1, nil
}

// Authenticate checks a login attempt against the configured admin account.
// Unknown usernames and wrong passwords both yield ErrInvalidCredentials.
func Authenticate(username, password, adminUser, adminHash string) error {
	if adminUser == "" || adminHash == "" {
		return ErrNotConfigured
	}

	// Always run the hash so timing does not reveal the username.
	ok, err := VerifyPassword(password, adminHash)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotConfigured, err)
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(adminUser)) == 1
	if !ok || !userOK {
		return ErrInvalidCredentials
	}
	return nil
}

type phcHash struct {
	time    uint32
	memory  uint32
	threads uint8
	salt    []byte
	hash    []byte
}

// decodePHC parses an Argon2id PHC string.
func decodePHC(encoded string) (phcHash, error) {
	var p phcHash

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 { //nolint:mnd // "", alg, version, params, salt, hash
		return p, errors.New("invalid PHC hash format")
	}
	if parts[1] != "argon2id" {
		return p, fmt.Errorf("unsupported algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, fmt.Errorf("parsing version: %w", err)
	}
	if version != argon2.Version {
		return p, fmt.Errorf("unsupported argon2 version %d", version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return p, fmt.Errorf("parsing parameters: %w", err)
	}

	var err error
	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return p, fmt.Errorf("decoding salt: %w", err)
	}
	if p.hash, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return p, fmt.Errorf("decoding hash: %w", err)
	}
	if len(p.hash) == 0 {
		return p, errors.New("empty hash")
	}

	return p, nil
}
