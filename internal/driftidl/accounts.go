package driftidl

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
)

var (
	// ErrUnknownDiscriminator marks account data whose leading 8 bytes match
	// no known account type of this program.
	ErrUnknownDiscriminator = errors.New("unknown account discriminator")
	// ErrMalformedAccount marks account data whose body fails to decode
	// against the layout its discriminator selects.
	ErrMalformedAccount = errors.New("malformed account data")
)

func parseAccount(discriminator [8]byte, typeName string, data []byte, out any) error {
	if len(data) < 8 {
		return fmt.Errorf("%w: %s payload shorter than discriminator (%d bytes)", ErrMalformedAccount, typeName, len(data))
	}
	if !bytes.Equal(data[:8], discriminator[:]) {
		return fmt.Errorf("%w: expected %s", ErrUnknownDiscriminator, typeName)
	}
	if err := bin.NewBorshDecoder(data[8:]).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrMalformedAccount, typeName, err)
	}
	return nil
}

func marshalAccount(discriminator [8]byte, typeName string, in any) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(discriminator[:])
	if err := bin.NewBorshEncoder(&buf).Encode(in); err != nil {
		return nil, fmt.Errorf("encode %s: %w", typeName, err)
	}
	return buf.Bytes(), nil
}

func ParseAccount_State(data []byte) (*State, error) {
	out := new(State)
	if err := parseAccount(Account_State, "State", data, out); err != nil {
		return nil, err
	}
	return out, nil
}

func ParseAccount_PerpMarket(data []byte) (*PerpMarket, error) {
	out := new(PerpMarket)
	if err := parseAccount(Account_PerpMarket, "PerpMarket", data, out); err != nil {
		return nil, err
	}
	return out, nil
}

func ParseAccount_SpotMarket(data []byte) (*SpotMarket, error) {
	out := new(SpotMarket)
	if err := parseAccount(Account_SpotMarket, "SpotMarket", data, out); err != nil {
		return nil, err
	}
	return out, nil
}

func ParseAccount_User(data []byte) (*User, error) {
	out := new(User)
	if err := parseAccount(Account_User, "User", data, out); err != nil {
		return nil, err
	}
	return out, nil
}

func ParseAccount_UserStats(data []byte) (*UserStats, error) {
	out := new(UserStats)
	if err := parseAccount(Account_UserStats, "UserStats", data, out); err != nil {
		return nil, err
	}
	return out, nil
}

func ParseAccount_InsuranceFundStake(data []byte) (*InsuranceFundStake, error) {
	out := new(InsuranceFundStake)
	if err := parseAccount(Account_InsuranceFundStake, "InsuranceFundStake", data, out); err != nil {
		return nil, err
	}
	return out, nil
}

func ParseAccount_ReferrerName(data []byte) (*ReferrerName, error) {
	out := new(ReferrerName)
	if err := parseAccount(Account_ReferrerName, "ReferrerName", data, out); err != nil {
		return nil, err
	}
	return out, nil
}

func ParseAccount_PhoenixV1FulfillmentConfig(data []byte) (*PhoenixV1FulfillmentConfig, error) {
	out := new(PhoenixV1FulfillmentConfig)
	if err := parseAccount(Account_PhoenixV1FulfillmentConfig, "PhoenixV1FulfillmentConfig", data, out); err != nil {
		return nil, err
	}
	return out, nil
}

func ParseAccount_SerumV3FulfillmentConfig(data []byte) (*SerumV3FulfillmentConfig, error) {
	out := new(SerumV3FulfillmentConfig)
	if err := parseAccount(Account_SerumV3FulfillmentConfig, "SerumV3FulfillmentConfig", data, out); err != nil {
		return nil, err
	}
	return out, nil
}

func ParseAccount_ProtocolIfSharesTransferConfig(data []byte) (*ProtocolIfSharesTransferConfig, error) {
	out := new(ProtocolIfSharesTransferConfig)
	if err := parseAccount(Account_ProtocolIfSharesTransferConfig, "ProtocolIfSharesTransferConfig", data, out); err != nil {
		return nil, err
	}
	return out, nil
}

func MarshalAccount_State(v *State) ([]byte, error) {
	return marshalAccount(Account_State, "State", v)
}

func MarshalAccount_PerpMarket(v *PerpMarket) ([]byte, error) {
	return marshalAccount(Account_PerpMarket, "PerpMarket", v)
}

func MarshalAccount_SpotMarket(v *SpotMarket) ([]byte, error) {
	return marshalAccount(Account_SpotMarket, "SpotMarket", v)
}

func MarshalAccount_User(v *User) ([]byte, error) {
	return marshalAccount(Account_User, "User", v)
}

func MarshalAccount_UserStats(v *UserStats) ([]byte, error) {
	return marshalAccount(Account_UserStats, "UserStats", v)
}

func MarshalAccount_InsuranceFundStake(v *InsuranceFundStake) ([]byte, error) {
	return marshalAccount(Account_InsuranceFundStake, "InsuranceFundStake", v)
}

func MarshalAccount_ReferrerName(v *ReferrerName) ([]byte, error) {
	return marshalAccount(Account_ReferrerName, "ReferrerName", v)
}

func MarshalAccount_PhoenixV1FulfillmentConfig(v *PhoenixV1FulfillmentConfig) ([]byte, error) {
	return marshalAccount(Account_PhoenixV1FulfillmentConfig, "PhoenixV1FulfillmentConfig", v)
}

func MarshalAccount_SerumV3FulfillmentConfig(v *SerumV3FulfillmentConfig) ([]byte, error) {
	return marshalAccount(Account_SerumV3FulfillmentConfig, "SerumV3FulfillmentConfig", v)
}

func MarshalAccount_ProtocolIfSharesTransferConfig(v *ProtocolIfSharesTransferConfig) ([]byte, error) {
	return marshalAccount(Account_ProtocolIfSharesTransferConfig, "ProtocolIfSharesTransferConfig", v)
}
