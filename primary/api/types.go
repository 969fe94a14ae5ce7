// Package api defines the wire and in-memory types shared by the primary's
// stores, RPC transport, and certificate waiter: authorities, rounds,
// certificates, committees, and the fetch request/response pair.
package api

import (
	"fmt"

	"github.com/btcsuite/btcutil/base58"
	"github.com/fxamacker/cbor/v2"
	"github.com/multiformats/go-multiaddr"
	"github.com/oasisprotocol/curve25519-voi/primitives/ed25519"
)

// Round is a monotonically increasing layer index within one authority's
// DAG history.
type Round uint64

// Epoch identifies a committee-membership era.
type Epoch uint64

// Authority is the stable Ed25519 public key naming a consensus
// participant. It is a fixed-size array, not a slice, so that it is
// comparable and usable directly as a map key.
type Authority [ed25519.PublicKeySize]byte

// AuthorityFromPublicKey copies an ed25519.PublicKey into an Authority.
func AuthorityFromPublicKey(pk ed25519.PublicKey) Authority {
	var a Authority
	copy(a[:], pk)
	return a
}

// PublicKey views the Authority back as an ed25519.PublicKey.
func (a Authority) PublicKey() ed25519.PublicKey {
	pk := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(pk, a[:])
	return pk
}

// String renders the Authority as a base58check string, version byte 0.
func (a Authority) String() string {
	return base58.CheckEncode(a[:], 0)
}

// ParseAuthority parses the output of Authority.String.
func ParseAuthority(s string) (Authority, error) {
	raw, version, err := base58.CheckDecode(s)
	if err != nil {
		return Authority{}, fmt.Errorf("api: parse authority: %w", err)
	}
	if version != 0 {
		return Authority{}, fmt.Errorf("api: parse authority: unexpected version byte %d", version)
	}
	if len(raw) != ed25519.PublicKeySize {
		return Authority{}, fmt.Errorf("api: parse authority: expected %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	var a Authority
	copy(a[:], raw)
	return a, nil
}

// MarshalCBOR implements cbor.Marshaler, encoding the Authority as a raw
// byte string rather than a CBOR array of 32 integers.
func (a Authority) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(a[:])
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (a *Authority) UnmarshalCBOR(data []byte) error {
	var raw []byte
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != ed25519.PublicKeySize {
		return fmt.Errorf("api: decode authority: expected %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	copy(a[:], raw)
	return nil
}

// Digest is the content hash of a Certificate's payload.
type Digest [32]byte

// Certificate is an opaque, already-verified DAG vertex. The waiter never
// inspects Payload; it only reads Author, Round, and Epoch.
type Certificate struct {
	Author        Authority `cbor:"author"`
	Round         Round     `cbor:"round"`
	Epoch         Epoch     `cbor:"epoch"`
	Payload       []byte    `cbor:"payload"`
	ParentDigests []Digest  `cbor:"parent_digests"`
}

// CommitteeMember pairs an Authority with the network address its primary
// listens on.
type CommitteeMember struct {
	Authority Authority
	Address   multiaddr.Multiaddr
}

// Committee is the epoch-tagged set of authorities and their addresses.
// It is replaced wholesale on epoch transition and mutated in place
// (membership held stable) on an in-epoch committee update.
type Committee struct {
	Epoch   Epoch
	Members []CommitteeMember
}

// Get returns the member matching authority, if present.
func (c *Committee) Get(a Authority) (CommitteeMember, bool) {
	for _, m := range c.Members {
		if m.Authority == a {
			return m, true
		}
	}
	return CommitteeMember{}, false
}

// Others returns every member except self, in committee order.
func (c *Committee) Others(self Authority) []CommitteeMember {
	out := make([]CommitteeMember, 0, len(c.Members))
	for _, m := range c.Members {
		if m.Authority != self {
			out = append(out, m)
		}
	}
	return out
}

// Clone returns a value-copy of the committee, safe to hand to a Fetch
// Task so it never observes a later in-place committee mutation.
func (c *Committee) Clone() *Committee {
	members := make([]CommitteeMember, len(c.Members))
	copy(members, c.Members)
	return &Committee{Epoch: c.Epoch, Members: members}
}
