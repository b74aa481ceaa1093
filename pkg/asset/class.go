package asset

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Class tags the kind of asset a leg carries.
type Class uint8

const (
	ClassUnknown      Class = iota
	ClassNative             // chain currency attached to the call
	ClassFungible           // ERC20-style token
	ClassNonFungible        // ERC721-style unit
	ClassSemiFungible       // ERC1155-style unit with a quantity
	ClassCollectible        // pre-standard collectible (punk-style market)
	ClassCollection         // any unit of a non-fungible contract (wanted side only)
)

var classNames = map[Class]string{
	ClassNative:       "ETH",
	ClassFungible:     "ERC20",
	ClassNonFungible:  "ERC721",
	ClassSemiFungible: "ERC1155",
	ClassCollectible:  "CRYPTO_PUNKS",
	ClassCollection:   "COLLECTION",
}

func (c Class) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(c))
}

// Tag returns the 4-byte class identifier hashed into asset identities:
// bytes4(keccak256(name)).
func (c Class) Tag() [4]byte {
	var tag [4]byte
	copy(tag[:], crypto.Keccak256([]byte(c.String())))
	return tag
}

// IsCurrency reports whether legs of this class carry a price and pay fees.
func (c Class) IsCurrency() bool {
	return c == ClassNative || c == ClassFungible
}

// IsUnit reports whether legs of this class name a specific unit id.
func (c Class) IsUnit() bool {
	return c == ClassNonFungible || c == ClassSemiFungible || c == ClassCollectible
}

// ParseClass resolves a class from its name (case-insensitive).
func ParseClass(name string) (Class, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for c, n := range classNames {
		if n == upper {
			return c, nil
		}
	}
	return ClassUnknown, fmt.Errorf("unknown asset class %q", name)
}

func (c Class) MarshalText() ([]byte, error) {
	if _, ok := classNames[c]; !ok {
		return nil, fmt.Errorf("unknown asset class %d", uint8(c))
	}
	return []byte(c.String()), nil
}

func (c *Class) UnmarshalText(text []byte) error {
	parsed, err := ParseClass(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
