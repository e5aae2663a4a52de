package encoding

import (
	"fmt"

	"github.com/google/uuid"
)

// RefFlags selects how a reference is turned back into a live entity.
type RefFlags uint8

const (
	// FlagNone resolves by template id when the load was pre-seeded, then by stream id,
	// creating the entity on first sight.
	FlagNone RefFlags = iota
	// FlagResolveWithExisting resolves the raw handle against the live registry and never
	// creates anything.
	FlagResolveWithExisting
	// FlagResolveWithLoaded expects the entity to have been materialized earlier in the
	// same pass.
	FlagResolveWithLoaded
)

var refFlagNames = [...]string{"none", "resolve_with_existing", "resolve_with_loaded"}

func (f RefFlags) String() string {
	if int(f) < len(refFlagNames) {
		return refFlagNames[f]
	}
	return fmt.Sprintf("flags(%d)", uint8(f))
}

func (f RefFlags) MarshalText() ([]byte, error) {
	if int(f) >= len(refFlagNames) {
		return nil, fmt.Errorf("ref flags %d: %w", uint8(f), ErrMalformed)
	}
	return []byte(refFlagNames[f]), nil
}

func (f *RefFlags) UnmarshalText(text []byte) error {
	for i, name := range refFlagNames {
		if name == string(text) {
			*f = RefFlags(i)
			return nil
		}
	}
	return fmt.Errorf("ref flags %q: %w", text, ErrMalformed)
}

// Ref is a serialized entity reference. ID is the stream id (0 is the null reference),
// UID the template id when the stream was written as a prefab, Raw the live handle for
// FlagResolveWithExisting.
type Ref struct {
	ID    uint64     `json:"id" yaml:"id"`
	Flags RefFlags   `json:"flags" yaml:"flags"`
	UID   *uuid.UUID `json:"uid,omitempty" yaml:"uid,omitempty"`
	Raw   uint64     `json:"raw,omitempty" yaml:"raw,omitempty"`
}

// IsNull reports whether the reference names no entity.
func (r Ref) IsNull() bool {
	return r.ID == 0 && r.Raw == 0 && r.UID == nil
}

// StableID returns the template id carried by the reference, or uuid.Nil.
func (r Ref) StableID() uuid.UUID {
	if r.UID == nil {
		return uuid.Nil
	}
	return *r.UID
}
