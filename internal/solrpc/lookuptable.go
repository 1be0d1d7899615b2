package solrpc

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Lookup-table accounts store a fixed 56-byte header followed by the packed
// 32-byte addresses.
const lookupTableMetaSize = 56

// ParseLookupTable extracts the address list from raw lookup-table account
// data. The body length must be a whole number of keys.
func ParseLookupTable(data []byte) ([]solana.PublicKey, error) {
	if len(data) < lookupTableMetaSize {
		return nil, fmt.Errorf("lookup table data too short: %d bytes", len(data))
	}
	body := data[lookupTableMetaSize:]
	if len(body)%solana.PublicKeyLength != 0 {
		return nil, fmt.Errorf("lookup table body not key-aligned: %d bytes", len(body))
	}
	addresses := make([]solana.PublicKey, 0, len(body)/solana.PublicKeyLength)
	for offset := 0; offset < len(body); offset += solana.PublicKeyLength {
		addresses = append(addresses, solana.PublicKeyFromBytes(body[offset:offset+solana.PublicKeyLength]))
	}
	return addresses, nil
}
