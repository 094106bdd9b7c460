package hash

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTime        uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithm             = "argon2id"
)

var ErrEmptyPassword = errors.New("password must not be empty")

type Config struct {
	MemoryKB    uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig keeps a single hash in the tens of milliseconds on commodity hardware.
func DefaultConfig() Config {
	return Config{
		MemoryKB:    64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2 hashes passwords with Argon2id and encodes them as PHC strings
// ($argon2id$v=19$m=..,t=..,p=..$salt$hash), so the salt and cost travel with the hash.
type Argon2 struct {
	cfg Config
}

func NewArgon2(cfg Config) (*Argon2, error) {
	switch {
	case cfg.MemoryKB < minMemoryKB:
		return nil, fmt.Errorf("argon2 memory must be at least %d KB", minMemoryKB)
	case cfg.Time < minTime:
		return nil, errors.New("argon2 time cost must be positive")
	case cfg.Parallelism < minParallelism:
		return nil, errors.New("argon2 parallelism must be positive")
	case cfg.SaltLength < minSaltLength:
		return nil, fmt.Errorf("argon2 salt must be at least %d bytes", minSaltLength)
	case cfg.KeyLength < minKeyLength:
		return nil, fmt.Errorf("argon2 key must be at least %d bytes", minKeyLength)
	}
	return &Argon2{cfg: cfg}, nil
}

func (a *Argon2) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, a.cfg.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}

	plain := []byte(password)
	key := argon2.IDKey(plain, salt, a.cfg.Time, a.cfg.MemoryKB, a.cfg.Parallelism, a.cfg.KeyLength)
	wipe(plain)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithm,
		argon2.Version,
		a.cfg.MemoryKB,
		a.cfg.Time,
		a.cfg.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify never reports why a check failed: a malformed hash and a wrong
// password both come back as false.
func (a *Argon2) Verify(password, encoded string) bool {
	if password == "" || encoded == "" {
		return false
	}
	p, err := parsePHC(encoded)
	if err != nil {
		return false
	}

	plain := []byte(password)
	computed := argon2.IDKey(plain, p.salt, p.time, p.memory, p.parallelism, uint32(len(p.key)))
	wipe(plain)

	return subtle.ConstantTimeCompare(computed, p.key) == 1
}

// NeedsRehash reports whether encoded was produced with weaker parameters than the current config.
func (a *Argon2) NeedsRehash(encoded string) bool {
	p, err := parsePHC(encoded)
	if err != nil {
		return true
	}
	return p.memory < a.cfg.MemoryKB || p.time < a.cfg.Time || p.parallelism < a.cfg.Parallelism ||
		uint32(len(p.key)) != a.cfg.KeyLength
}

type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func parsePHC(encoded string) (*phc, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithm {
		return nil, errors.New("invalid PHC format")
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return nil, errors.New("unsupported argon2 version")
	}

	var out phc
	for _, kv := range strings.Split(parts[3], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, errors.New("invalid parameter entry")
		}
		switch k {
		case "m":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || uint32(n) < minMemoryKB {
				return nil, errors.New("invalid memory parameter")
			}
			out.memory = uint32(n)
		case "t":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || uint32(n) < minTime {
				return nil, errors.New("invalid time parameter")
			}
			out.time = uint32(n)
		case "p":
			n, err := strconv.ParseUint(v, 10, 8)
			if err != nil || uint8(n) < minParallelism {
				return nil, errors.New("invalid parallelism parameter")
			}
			out.parallelism = uint8(n)
		default:
			return nil, errors.New("unknown parameter")
		}
	}
	if out.memory == 0 || out.time == 0 || out.parallelism == 0 {
		return nil, errors.New("missing parameter")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || uint32(len(salt)) < minSaltLength {
		return nil, errors.New("invalid salt")
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || uint32(len(key)) < minKeyLength {
		return nil, errors.New("invalid key")
	}
	out.salt, out.key = salt, key
	return &out, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
