// Package keys builds deterministic cache keys from a namespace, a
// resource, an operation, and the operation's parameters.
//
// Identical inputs always produce the identical key string; distinct
// parameter sets produce distinct keys with overwhelming probability
// (128-bit SHA-256 prefix). Parameters are canonicalized through JSON,
// which sorts map keys, so logically equal inputs hash equally.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cachetier/cachetier/backend"
)

const (
	// Separator joins key segments. Segment values must not contain it.
	Separator = ":"

	// HashLen is the number of hex characters kept from the SHA-256
	// parameter hash, 128 bits.
	HashLen = 32
)

// CacheKey is the parsed form of a key string. The cache itself treats
// keys as opaque strings; this metadata exists for logging and
// debugging.
type CacheKey struct {
	Namespace string
	Resource  string
	Operation string

	// Hash is the parameter digest, empty for parameterless keys.
	Hash string
}

// String renders the key as
// "namespace:resource:operation[:hash]".
func (k CacheKey) String() string {
	segments := []string{k.Namespace, k.Resource, k.Operation}
	if k.Hash != "" {
		segments = append(segments, k.Hash)
	}
	return strings.Join(segments, Separator)
}

// Parse splits a key string built by this package back into its
// segments. Three segments mean a parameterless key, four include the
// parameter hash.
func Parse(s string) (CacheKey, error) {
	segments := strings.Split(s, Separator)
	switch len(segments) {
	case 3:
		return CacheKey{Namespace: segments[0], Resource: segments[1], Operation: segments[2]}, nil
	case 4:
		return CacheKey{Namespace: segments[0], Resource: segments[1], Operation: segments[2], Hash: segments[3]}, nil
	default:
		return CacheKey{}, fmt.Errorf("keys: malformed key %q", s)
	}
}

// Builder produces keys within one namespace. Builders are immutable
// and safe for concurrent use.
type Builder struct {
	namespace string
}

// New creates a Builder for the given namespace.
func New(namespace string) *Builder {
	return &Builder{namespace: namespace}
}

// Namespace returns the builder's namespace.
func (b *Builder) Namespace() string {
	return b.namespace
}

// Key builds "namespace:resource:operation" for parameterless
// operations, appending the 128-bit parameter hash otherwise. Params
// must be JSON-serializable; anything else is a serialization error.
func (b *Builder) Key(resource, operation string, params ...any) (string, error) {
	ck, err := b.CacheKey(resource, operation, params...)
	if err != nil {
		return "", err
	}
	return ck.String(), nil
}

// CacheKey is Key returning the parsed form.
func (b *Builder) CacheKey(resource, operation string, params ...any) (CacheKey, error) {
	ck := CacheKey{
		Namespace: b.namespace,
		Resource:  resource,
		Operation: operation,
	}
	if len(params) == 0 {
		return ck, nil
	}
	hash, err := hashParams(params)
	if err != nil {
		return CacheKey{}, err
	}
	ck.Hash = hash
	return ck, nil
}

// hashParams canonicalizes params through JSON and digests them.
// JSON object keys marshal in sorted order, so maps hash
// deterministically.
func hashParams(params []any) (string, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("%w: marshal key params: %v", backend.ErrSerialization, err)
	}
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])[:HashLen], nil
}
