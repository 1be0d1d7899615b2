package drift

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"

	"github.com/quantfold/driftcore/internal/driftidl"
)

// pyth price account layout offsets (packed, little-endian)
const (
	pythExponentOffset = 20
	pythAggOffset      = 208
	pythMinAccountSize = 240
	pythMagic          = 0xa1b2c3d4
)

// switchboard v2 aggregator layout offsets (packed, little-endian). Account
// data starts with the usual 8-byte discriminator; the offsets below are
// relative to the body. The latest confirmed round sits at 333; within a
// round, result and std_deviation are 20-byte decimals (i128 mantissa + u32
// scale) at 25 and 45.
const (
	sbMinOracleResultsOffset = 228
	sbLatestRoundOffset      = 333
	sbRoundOpenSlotOffset    = 9
	sbRoundResultOffset      = 25
	sbRoundStdDevOffset      = 45
	sbDecimalSize            = 20
	sbMinAccountSize         = 8 + sbLatestRoundOffset + sbRoundStdDevOffset + sbDecimalSize
)

// prelaunch oracle layout: discriminator + price i64, max_price i64,
// confidence u64, last_update_slot u64, amm_last_update_slot u64.
const prelaunchMinAccountSize = 8 + 40

// OraclePriceData is a price observation normalized to 1e6 precision.
type OraclePriceData struct {
	// Price is scaled by driftidl.PricePrecision.
	Price      int64
	Confidence uint64
	Slot       uint64
	// Trading reports whether the feed's aggregate status was "trading".
	Trading bool
}

// ParseOraclePrice decodes a raw oracle account for the given source.
// QuoteAsset feeds are synthetic and always worth exactly one quote unit.
func ParseOraclePrice(source driftidl.OracleSource, data []byte) (*OraclePriceData, error) {
	switch source {
	case driftidl.OracleSource_QuoteAsset:
		return &OraclePriceData{Price: int64(driftidl.PricePrecision), Trading: true}, nil
	case driftidl.OracleSource_Pyth, driftidl.OracleSource_Pyth1K, driftidl.OracleSource_Pyth1M, driftidl.OracleSource_PythStableCoin:
		return parsePythPrice(source, data)
	case driftidl.OracleSource_Switchboard:
		return parseSwitchboardPrice(data)
	case driftidl.OracleSource_Prelaunch:
		return parsePrelaunchPrice(data)
	default:
		return nil, fmt.Errorf("unsupported oracle source %s", source)
	}
}

func parsePythPrice(source driftidl.OracleSource, data []byte) (*OraclePriceData, error) {
	if len(data) < pythMinAccountSize {
		return nil, fmt.Errorf("pyth price account too short: %d bytes", len(data))
	}
	if binary.LittleEndian.Uint32(data[0:4]) != pythMagic {
		return nil, fmt.Errorf("pyth price account has bad magic")
	}

	exponent := int32(binary.LittleEndian.Uint32(data[pythExponentOffset : pythExponentOffset+4]))
	rawPrice := int64(binary.LittleEndian.Uint64(data[pythAggOffset : pythAggOffset+8]))
	confidence := binary.LittleEndian.Uint64(data[pythAggOffset+8 : pythAggOffset+16])
	status := binary.LittleEndian.Uint32(data[pythAggOffset+16 : pythAggOffset+20])
	publishSlot := binary.LittleEndian.Uint64(data[pythAggOffset+24 : pythAggOffset+32])

	price, err := rescale(rawPrice, exponent)
	if err != nil {
		return nil, err
	}
	conf, err := rescale(int64(confidence), exponent)
	if err != nil {
		return nil, err
	}

	switch source {
	case driftidl.OracleSource_Pyth1K:
		price *= 1_000
		conf *= 1_000
	case driftidl.OracleSource_Pyth1M:
		price *= 1_000_000
		conf *= 1_000_000
	}

	return &OraclePriceData{
		Price:      price,
		Confidence: uint64(conf),
		Slot:       publishSlot,
		Trading:    status == 1,
	}, nil
}

func parseSwitchboardPrice(data []byte) (*OraclePriceData, error) {
	if len(data) < sbMinAccountSize {
		return nil, fmt.Errorf("switchboard aggregator account too short: %d bytes", len(data))
	}
	body := data[8:]
	minOracleResults := binary.LittleEndian.Uint32(body[sbMinOracleResultsOffset : sbMinOracleResultsOffset+4])
	round := body[sbLatestRoundOffset:]
	numSuccess := binary.LittleEndian.Uint32(round[0:4])
	roundOpenSlot := binary.LittleEndian.Uint64(round[sbRoundOpenSlotOffset : sbRoundOpenSlotOffset+8])

	price, err := rescaleSwitchboardDecimal(round[sbRoundResultOffset : sbRoundResultOffset+sbDecimalSize])
	if err != nil {
		return nil, fmt.Errorf("switchboard result: %w", err)
	}
	stdDev, err := rescaleSwitchboardDecimal(round[sbRoundStdDevOffset : sbRoundStdDevOffset+sbDecimalSize])
	if err != nil {
		return nil, fmt.Errorf("switchboard std deviation: %w", err)
	}

	// a negative std deviation is a broken feed; poison the confidence so
	// consumers treat the value as bad
	var confidence uint64
	if stdDev < 0 {
		confidence = math.MaxUint64
	} else {
		price10bps := absInt64(price) / 1000
		confidence = uint64(stdDev)
		if price10bps > confidence {
			confidence = price10bps
		}
	}

	return &OraclePriceData{
		Price:      price,
		Confidence: confidence,
		Slot:       roundOpenSlot,
		Trading:    numSuccess >= minOracleResults,
	}, nil
}

// rescaleSwitchboardDecimal converts a 20-byte decimal (i128 mantissa, u32
// scale) to fixed 1e6 precision.
func rescaleSwitchboardDecimal(b []byte) (int64, error) {
	lo := binary.LittleEndian.Uint64(b[0:8])
	hi := int64(binary.LittleEndian.Uint64(b[8:16]))
	scale := binary.LittleEndian.Uint32(b[16:20])

	mantissa := new(big.Int).SetInt64(hi)
	mantissa.Lsh(mantissa, 64)
	mantissa.Add(mantissa, new(big.Int).SetUint64(lo))

	precision := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(scale)), nil)
	target := new(big.Int).SetUint64(driftidl.PricePrecision)
	if precision.Cmp(target) > 0 {
		mantissa.Quo(mantissa, new(big.Int).Quo(precision, target))
	} else {
		mantissa.Mul(mantissa, new(big.Int).Quo(target, precision))
	}
	if !mantissa.IsInt64() {
		return 0, fmt.Errorf("decimal value out of range (scale %d)", scale)
	}
	return mantissa.Int64(), nil
}

func parsePrelaunchPrice(data []byte) (*OraclePriceData, error) {
	if len(data) < prelaunchMinAccountSize {
		return nil, fmt.Errorf("prelaunch oracle account too short: %d bytes", len(data))
	}
	body := data[8:]
	price := int64(binary.LittleEndian.Uint64(body[0:8]))
	confidence := binary.LittleEndian.Uint64(body[16:24])
	ammLastUpdateSlot := binary.LittleEndian.Uint64(body[32:40])
	return &OraclePriceData{
		Price:      price,
		Confidence: confidence,
		Slot:       ammLastUpdateSlot,
		Trading:    true,
	}, nil
}

func absInt64(v int64) uint64 {
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}

// rescale converts a feed value with exponent e to fixed 1e6 precision.
func rescale(value int64, exponent int32) (int64, error) {
	shift := 6 + int(exponent)
	switch {
	case shift == 0:
		return value, nil
	case shift > 0:
		for i := 0; i < shift; i++ {
			value *= 10
		}
		return value, nil
	case shift < -18:
		return 0, fmt.Errorf("oracle exponent %d out of range", exponent)
	default:
		for i := 0; i < -shift; i++ {
			value /= 10
		}
		return value, nil
	}
}
