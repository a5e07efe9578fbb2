package credential

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/argon2"
	"golang.org/x/text/unicode/norm"

	"github.com/sushazhi/fnos-logmanager/internal/util"
)

// Scheme tags prefixed to every stored hash.
const (
	TagArgon2id     = "argon2id"
	TagLegacyArgon2 = "argon2"
)

const (
	argon2Version = argon2.Version
	saltLen       = 16
)

var (
	// ErrUnknownScheme is returned for a stored hash whose tag has no verifier.
	ErrUnknownScheme = errors.New("unknown password hash scheme")
	// ErrMalformedHash is returned for a stored hash that cannot be parsed.
	ErrMalformedHash = errors.New("malformed password hash")
)

type verifier func(plaintext string, encoded string) (bool, error)

var verifiers = map[string]verifier{
	TagArgon2id:     verifyArgon2id,
	TagLegacyArgon2: verifyLegacyArgon2,
}

// Hash derives a tagged argon2id hash of plaintext using the default
// parameters.
func Hash(plaintext string) (string, error) {
	return HashWithParams(plaintext, util.DefaultArgon2idParams())
}

// HashWithParams derives a tagged argon2id hash of plaintext:
//
//	argon2id$v=19$m=65536,t=3,p=4$<salt>$<key>
func HashWithParams(plaintext string, params util.Argon2idParams) (string, error) {
	if err := util.ValidateArgon2idParams(params); err != nil {
		return "", err
	}
	salt, err := util.RandomBytes(saltLen)
	if err != nil {
		return "", err
	}
	buf := memguard.NewBufferFromBytes([]byte(norm.NFKD.String(plaintext)))
	defer buf.Destroy()

	key, err := util.DeriveArgon2idKey(buf.Bytes(), salt, params)
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(key)

	return fmt.Sprintf("%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		TagArgon2id, argon2Version,
		params.MemoryKiB, params.Time, params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether plaintext matches the stored hash. The hash's tag
// selects the verifier; an unknown tag or unparsable hash never matches.
func Verify(plaintext, stored string) bool {
	ok, err := verify(plaintext, stored)
	return err == nil && ok
}

func verify(plaintext, stored string) (bool, error) {
	v, ok := verifiers[Tag(stored)]
	if !ok {
		return false, ErrUnknownScheme
	}
	return v(plaintext, stored)
}

// Tag returns the scheme tag of a stored hash.
func Tag(stored string) string {
	tag, _, _ := strings.Cut(stored, "$")
	return tag
}

// NeedsRehash reports whether a stored hash was produced by anything other
// than the current scheme.
func NeedsRehash(stored string) bool {
	return Tag(stored) != TagArgon2id
}

// Parse checks that stored is a well-formed hash of a known scheme.
func Parse(stored string) error {
	switch Tag(stored) {
	case TagArgon2id:
		_, _, _, err := parseArgon2idFields(strings.Split(stored, "$"))
		return err
	case TagLegacyArgon2:
		rest, ok := strings.CutPrefix(stored, TagLegacyArgon2+"$$")
		if !ok {
			return ErrMalformedHash
		}
		_, _, _, err := parseArgon2idFields(strings.Split(strings.TrimPrefix(rest, "$"), "$"))
		return err
	default:
		return ErrUnknownScheme
	}
}

func verifyArgon2id(plaintext, encoded string) (bool, error) {
	params, salt, key, err := parseArgon2idFields(strings.Split(encoded, "$"))
	if err != nil {
		return false, err
	}
	buf := memguard.NewBufferFromBytes([]byte(norm.NFKD.String(plaintext)))
	defer buf.Destroy()
	return util.CompareArgon2idKey(buf.Bytes(), salt, params, key)
}

// verifyLegacyArgon2 checks hashes written by earlier releases as
// "argon2$$" followed by a PHC string. Those were computed over the raw
// password, so no normalization is applied here.
func verifyLegacyArgon2(plaintext, encoded string) (bool, error) {
	rest, ok := strings.CutPrefix(encoded, TagLegacyArgon2+"$$")
	if !ok {
		return false, ErrMalformedHash
	}
	params, salt, key, err := parseArgon2idFields(strings.Split(strings.TrimPrefix(rest, "$"), "$"))
	if err != nil {
		return false, err
	}
	buf := memguard.NewBufferFromBytes([]byte(plaintext))
	defer buf.Destroy()
	return util.CompareArgon2idKey(buf.Bytes(), salt, params, key)
}

// parseArgon2idFields parses [algorithm, v=19, m=..,t=..,p=.., salt, key].
func parseArgon2idFields(fields []string) (util.Argon2idParams, []byte, []byte, error) {
	var params util.Argon2idParams
	if len(fields) != 5 || fields[0] != TagArgon2id {
		return params, nil, nil, ErrMalformedHash
	}
	if fields[1] != "v="+strconv.Itoa(argon2Version) {
		return params, nil, nil, fmt.Errorf("%w: unsupported version %q", ErrMalformedHash, fields[1])
	}
	for _, kv := range strings.Split(fields[2], ",") {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return params, nil, nil, ErrMalformedHash
		}
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return params, nil, nil, fmt.Errorf("%w: %s", ErrMalformedHash, kv)
		}
		switch name {
		case "m":
			params.MemoryKiB = uint32(n)
		case "t":
			params.Time = uint32(n)
		case "p":
			if n > 255 {
				return params, nil, nil, fmt.Errorf("%w: %s", ErrMalformedHash, kv)
			}
			params.Parallelism = uint8(n)
		default:
			return params, nil, nil, fmt.Errorf("%w: %s", ErrMalformedHash, kv)
		}
	}
	salt, err := base64.RawStdEncoding.DecodeString(fields[3])
	if err != nil || len(salt) == 0 {
		return params, nil, nil, fmt.Errorf("%w: salt", ErrMalformedHash)
	}
	key, err := base64.RawStdEncoding.DecodeString(fields[4])
	if err != nil {
		return params, nil, nil, fmt.Errorf("%w: key", ErrMalformedHash)
	}
	params.KeyLen = uint32(len(key))
	if err := util.ValidateArgon2idParams(params); err != nil {
		return params, nil, nil, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	return params, salt, key, nil
}
