// Package driftidl mirrors the on-chain account and instruction layouts of the
// drift perpetuals program. Layouts follow the program IDL; regenerate with
// anchor-go when the program upgrades.
package driftidl

import (
	"crypto/sha256"

	"github.com/gagliardetto/solana-go"
)

// ProgramID is the deployed drift program. Overridable for test validators.
var ProgramID = solana.MustPublicKeyFromBase58("dRiftyHA39MWEi3m9aunc5MzRF1JYuBsbn6VPcn33UH")

// PythProgramID owns pyth price-feed accounts referenced by market oracles.
var PythProgramID = solana.MustPublicKeyFromBase58("FsJ3A3u2vn5cTVofAjvy6y5kwABJAqYWpe4975bi2epH")

func SetProgramID(key solana.PublicKey) {
	ProgramID = key
}

// Anchor account discriminators: first 8 bytes of sha256("account:" + TypeName).
var (
	Account_User                           = [8]byte{159, 117, 95, 227, 239, 151, 58, 236}
	Account_PerpMarket                     = [8]byte{10, 223, 12, 44, 107, 245, 55, 247}
	Account_SpotMarket                     = [8]byte{100, 177, 8, 107, 168, 65, 65, 39}
	Account_State                          = [8]byte{216, 146, 107, 94, 104, 75, 182, 177}
	Account_UserStats                      = [8]byte{176, 223, 136, 27, 122, 79, 32, 227}
	Account_InsuranceFundStake             = [8]byte{110, 202, 14, 42, 95, 73, 90, 95}
	Account_ReferrerName                   = [8]byte{105, 133, 170, 110, 52, 42, 28, 182}
	Account_PhoenixV1FulfillmentConfig     = [8]byte{233, 45, 62, 40, 35, 129, 48, 72}
	Account_SerumV3FulfillmentConfig       = [8]byte{65, 160, 197, 112, 239, 168, 103, 185}
	Account_ProtocolIfSharesTransferConfig = [8]byte{188, 1, 213, 98, 23, 148, 30, 1}
)

// AccountDiscriminator derives the 8-byte anchor tag for an account type name.
func AccountDiscriminator(typeName string) [8]byte {
	hash := sha256.Sum256([]byte("account:" + typeName))
	var out [8]byte
	copy(out[:], hash[:8])
	return out
}

// InstructionDiscriminator derives the 8-byte anchor tag for an instruction.
func InstructionDiscriminator(ixName string) [8]byte {
	hash := sha256.Sum256([]byte("global:" + ixName))
	var out [8]byte
	copy(out[:], hash[:8])
	return out
}
