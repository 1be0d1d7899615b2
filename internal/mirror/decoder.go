// Package mirror maintains the live local replica of program accounts: a
// typed decoder, an indexed cache fed by RPC seeding and streamed deltas,
// and the streaming subscriber itself.
package mirror

import (
	"encoding/json"
	"fmt"

	"github.com/quantfold/driftcore/internal/drift"
	"github.com/quantfold/driftcore/internal/driftidl"
)

// Kind tags the variant a decoded account landed on.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindUser
	KindUserStats
	KindPerpMarket
	KindSpotMarket
	KindState
	KindInsuranceFundStake
	KindReferrerName
	KindPhoenixConfig
	KindSerumConfig
	KindIfSharesTransferConfig
	KindOracle
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "User"
	case KindUserStats:
		return "UserStats"
	case KindPerpMarket:
		return "PerpMarket"
	case KindSpotMarket:
		return "SpotMarket"
	case KindState:
		return "State"
	case KindInsuranceFundStake:
		return "InsuranceFundStake"
	case KindReferrerName:
		return "ReferrerName"
	case KindPhoenixConfig:
		return "PhoenixV1FulfillmentConfig"
	case KindSerumConfig:
		return "SerumV3FulfillmentConfig"
	case KindIfSharesTransferConfig:
		return "ProtocolIfSharesTransferConfig"
	case KindOracle:
		return "Oracle"
	default:
		return "Unknown"
	}
}

// Record is the tagged union over the program's account types. Exactly the
// field matching Kind is set.
type Record struct {
	Kind               Kind
	User               *driftidl.User
	UserStats          *driftidl.UserStats
	PerpMarket         *driftidl.PerpMarket
	SpotMarket         *driftidl.SpotMarket
	State              *driftidl.State
	InsuranceFundStake *driftidl.InsuranceFundStake
	ReferrerName       *driftidl.ReferrerName
	PhoenixConfig      *driftidl.PhoenixV1FulfillmentConfig
	SerumConfig        *driftidl.SerumV3FulfillmentConfig
	IfSharesConfig     *driftidl.ProtocolIfSharesTransferConfig
	Oracle             *drift.OraclePriceData
}

func (r Record) payload() any {
	switch r.Kind {
	case KindUser:
		return r.User
	case KindUserStats:
		return r.UserStats
	case KindPerpMarket:
		return r.PerpMarket
	case KindSpotMarket:
		return r.SpotMarket
	case KindState:
		return r.State
	case KindInsuranceFundStake:
		return r.InsuranceFundStake
	case KindReferrerName:
		return r.ReferrerName
	case KindPhoenixConfig:
		return r.PhoenixConfig
	case KindSerumConfig:
		return r.SerumConfig
	case KindIfSharesTransferConfig:
		return r.IfSharesConfig
	case KindOracle:
		return r.Oracle
	default:
		return nil
	}
}

// MarshalJSON renders the record as a self-describing document.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind string `json:"kind"`
		Data any    `json:"data"`
	}{Kind: r.Kind.String(), Data: r.payload()})
}

type decodeFunc func(data []byte) (Record, error)

// Decoder maps raw program-account bytes to typed records by their 8-byte
// discriminator. The dispatch table is built once.
type Decoder struct {
	byDiscriminator map[[8]byte]decodeFunc
}

func NewDecoder() *Decoder {
	table := map[[8]byte]decodeFunc{
		driftidl.Account_User: func(data []byte) (Record, error) {
			v, err := driftidl.ParseAccount_User(data)
			return Record{Kind: KindUser, User: v}, err
		},
		driftidl.Account_UserStats: func(data []byte) (Record, error) {
			v, err := driftidl.ParseAccount_UserStats(data)
			return Record{Kind: KindUserStats, UserStats: v}, err
		},
		driftidl.Account_PerpMarket: func(data []byte) (Record, error) {
			v, err := driftidl.ParseAccount_PerpMarket(data)
			return Record{Kind: KindPerpMarket, PerpMarket: v}, err
		},
		driftidl.Account_SpotMarket: func(data []byte) (Record, error) {
			v, err := driftidl.ParseAccount_SpotMarket(data)
			return Record{Kind: KindSpotMarket, SpotMarket: v}, err
		},
		driftidl.Account_State: func(data []byte) (Record, error) {
			v, err := driftidl.ParseAccount_State(data)
			return Record{Kind: KindState, State: v}, err
		},
		driftidl.Account_InsuranceFundStake: func(data []byte) (Record, error) {
			v, err := driftidl.ParseAccount_InsuranceFundStake(data)
			return Record{Kind: KindInsuranceFundStake, InsuranceFundStake: v}, err
		},
		driftidl.Account_ReferrerName: func(data []byte) (Record, error) {
			v, err := driftidl.ParseAccount_ReferrerName(data)
			return Record{Kind: KindReferrerName, ReferrerName: v}, err
		},
		driftidl.Account_PhoenixV1FulfillmentConfig: func(data []byte) (Record, error) {
			v, err := driftidl.ParseAccount_PhoenixV1FulfillmentConfig(data)
			return Record{Kind: KindPhoenixConfig, PhoenixConfig: v}, err
		},
		driftidl.Account_SerumV3FulfillmentConfig: func(data []byte) (Record, error) {
			v, err := driftidl.ParseAccount_SerumV3FulfillmentConfig(data)
			return Record{Kind: KindSerumConfig, SerumConfig: v}, err
		},
		driftidl.Account_ProtocolIfSharesTransferConfig: func(data []byte) (Record, error) {
			v, err := driftidl.ParseAccount_ProtocolIfSharesTransferConfig(data)
			return Record{Kind: KindIfSharesTransferConfig, IfSharesConfig: v}, err
		},
	}
	return &Decoder{byDiscriminator: table}
}

// Decode selects the variant by the leading discriminator and deserializes
// the body. Unknown discriminators and truncated bodies fail with the
// driftidl sentinel errors.
func (d *Decoder) Decode(data []byte) (Record, error) {
	if len(data) < 8 {
		return Record{}, fmt.Errorf("%w: %d bytes", driftidl.ErrMalformedAccount, len(data))
	}
	var discriminator [8]byte
	copy(discriminator[:], data[:8])
	decode, ok := d.byDiscriminator[discriminator]
	if !ok {
		return Record{}, fmt.Errorf("%w: %x", driftidl.ErrUnknownDiscriminator, discriminator)
	}
	record, err := decode(data)
	if err != nil {
		return Record{}, err
	}
	return record, nil
}

// DecodeToJSON decodes and renders the record as a self-describing document.
func (d *Decoder) DecodeToJSON(data []byte) ([]byte, error) {
	record, err := d.Decode(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(record)
}
