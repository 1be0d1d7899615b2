// Package drift holds the program-specific pieces the mirror and dispatcher
// share: PDA derivation, market discovery, the remaining-accounts resolver,
// and the historical settlement archive reader.
package drift

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

func DeriveStatePDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("drift_state")}, programID)
}

func DeriveUserPDA(programID, authority solana.PublicKey, subAccountID uint16) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("user"), authority.Bytes(), u16LE(subAccountID)}, programID)
}

func DeriveUserStatsPDA(programID, authority solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("user_stats"), authority.Bytes()}, programID)
}

func DerivePerpMarketPDA(programID solana.PublicKey, marketIndex uint16) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("perp_market"), u16LE(marketIndex)}, programID)
}

func DeriveSpotMarketPDA(programID solana.PublicKey, marketIndex uint16) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("spot_market"), u16LE(marketIndex)}, programID)
}

func DeriveSpotMarketVaultPDA(programID solana.PublicKey, marketIndex uint16) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("spot_market_vault"), u16LE(marketIndex)}, programID)
}

func DeriveInsuranceFundStakePDA(programID, authority solana.PublicKey, marketIndex uint16) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("insurance_fund_stake"), authority.Bytes(), u16LE(marketIndex)}, programID)
}

func MustDeriveUserPDA(programID, authority solana.PublicKey, subAccountID uint16) solana.PublicKey {
	pk, _, err := DeriveUserPDA(programID, authority, subAccountID)
	if err != nil {
		panic(fmt.Errorf("derive user PDA: %w", err))
	}
	return pk
}

func MustDeriveStatePDA(programID solana.PublicKey) solana.PublicKey {
	pk, _, err := DeriveStatePDA(programID)
	if err != nil {
		panic(fmt.Errorf("derive state PDA: %w", err))
	}
	return pk
}

func u16LE(value uint16) []byte {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, value)
	return buf
}
