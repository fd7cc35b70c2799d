package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// AddressLength is the number of bytes in a party or object identifier.
const AddressLength = 32

// Address is an opaque fixed-length identifier for a party (owner, arbiter,
// penalty recipient) or a ledger object. The canonical textual form is "0x"
// followed by 64 lowercase hexadecimal characters.
type Address [AddressLength]byte

// BurnAddress is the unspendable all-zero destination. Funds routed here are
// irrecoverably destroyed.
var BurnAddress = Address{}

// ParseAddress validates and decodes the "0x" + 64 hex character form. Any
// other shape is rejected.
func ParseAddress(s string) (Address, error) {
	var addr Address
	trimmed := strings.TrimSpace(s)
	if len(trimmed) != 2+2*AddressLength {
		return addr, fmt.Errorf("invalid address %q: expected 0x followed by %d hex characters", s, 2*AddressLength)
	}
	if !strings.HasPrefix(trimmed, "0x") && !strings.HasPrefix(trimmed, "0X") {
		return addr, fmt.Errorf("invalid address %q: missing 0x prefix", s)
	}
	raw, err := hexutil.Decode("0x" + trimmed[2:])
	if err != nil {
		return addr, fmt.Errorf("invalid address %q: %w", s, err)
	}
	copy(addr[:], raw)
	return addr, nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// BytesToAddress copies b into an address, left-padding short input.
func BytesToAddress(b []byte) Address {
	var addr Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(addr[AddressLength-len(b):], b)
	return addr
}

func (a Address) Bytes() []byte { return append([]byte(nil), a[:]...) }

func (a Address) Hex() string { return hexutil.Encode(a[:]) }

func (a Address) String() string { return a.Hex() }

// IsBurn reports whether the address is the canonical burn destination.
func (a Address) IsBurn() bool { return a == BurnAddress }

// Equal compares two addresses.
func (a Address) Equal(other Address) bool { return bytes.Equal(a[:], other[:]) }

func (a Address) MarshalText() ([]byte, error) { return []byte(a.Hex()), nil }

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalJSON is implemented explicitly so array-typed addresses never fall
// back to the default byte-array encoding.
func (a Address) MarshalJSON() ([]byte, error) { return json.Marshal(a.Hex()) }

func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return a.UnmarshalText([]byte(s))
}
