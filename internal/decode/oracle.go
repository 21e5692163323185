package decode

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
)

// PythStatusTrading is the only status value the oracle cache accepts.
const PythStatusTrading = 1

// PythPrice is the subset of a Pyth price account the engine reads.
type PythPrice struct {
	Mantissa    int64
	Exponent    int32
	Confidence  uint64
	PublishTime int64
	Status      uint8
}

// pythPriceMinLen: magic(4) version(4) accountType(4) size(4)
// priceType(4) exponent(i32) status(u8, padded to 4) ... price(i64)
// confidence(u64) publishTime(i64).
const pythPriceMinLen = 4 + 4 + 4 + 4 + 4 + 4 + 4 + 8 + 8 + 8

// DecodePythPrice decodes a Pyth price account's header fields.
func DecodePythPrice(data []byte) (*PythPrice, error) {
	if len(data) < pythPriceMinLen {
		return nil, fmt.Errorf("pyth price: short buffer (%d < %d)", len(data), pythPriceMinLen)
	}
	dec := bin.NewBinDecoder(data)
	if _, err := dec.ReadUint32(bin.LE); err != nil { // magic
		return nil, err
	}
	if _, err := dec.ReadUint32(bin.LE); err != nil { // version
		return nil, err
	}
	if _, err := dec.ReadUint32(bin.LE); err != nil { // account type
		return nil, err
	}
	if _, err := dec.ReadUint32(bin.LE); err != nil { // size
		return nil, err
	}
	if _, err := dec.ReadUint32(bin.LE); err != nil { // price type
		return nil, err
	}
	exponentRaw, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, err
	}
	statusRaw, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, err
	}
	priceRaw, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, err
	}
	confidence, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, err
	}
	publishTimeRaw, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, err
	}

	return &PythPrice{
		Mantissa:    int64(priceRaw),
		Exponent:    int32(exponentRaw),
		Confidence:  confidence,
		PublishTime: int64(publishTimeRaw),
		Status:      uint8(statusRaw),
	}, nil
}

// SwitchboardPrice is the subset of a Switchboard V2 aggregator result
// the engine reads: a mantissa + base-10 scale and a std-dev used as
// the confidence interval.
type SwitchboardPrice struct {
	Mantissa int64
	Scale    uint32
	StdDev   uint64
	Slot     uint64
}

const switchboardMinLen = 8 + 4 + 8 + 8

// DecodeSwitchboardPrice decodes a fixed-offset Switchboard V2
// aggregator result (mantissa, scale, stddev, round-open slot).
func DecodeSwitchboardPrice(data []byte) (*SwitchboardPrice, error) {
	if len(data) < switchboardMinLen {
		return nil, fmt.Errorf("switchboard price: short buffer (%d < %d)", len(data), switchboardMinLen)
	}
	dec := bin.NewBinDecoder(data)
	mantissaRaw, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, err
	}
	scale, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, err
	}
	stdDev, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, err
	}
	slot, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, err
	}
	return &SwitchboardPrice{
		Mantissa: int64(mantissaRaw),
		Scale:    scale,
		StdDev:   stdDev,
		Slot:     slot,
	}, nil
}

// ScopeEntry is one slot in a Scope price feed.
type ScopeEntry struct {
	Value     uint64
	Exponent  uint64
	Timestamp int64
}

// ScopeExponent is the fixed base-10 exponent every Scope feed entry
// carries.
const ScopeExponent = -8

const scopeEntrySize = 8 + 8 + 8

// DecodeScopeFeed decodes a Scope price-feed account into its slice of
// entries, indexable by the Scope-chain hop indices stored on a
// reserve.
func DecodeScopeFeed(data []byte, maxEntries int) ([]ScopeEntry, error) {
	if len(data) < maxEntries*scopeEntrySize {
		return nil, fmt.Errorf("scope feed: short buffer (%d < %d)", len(data), maxEntries*scopeEntrySize)
	}
	dec := bin.NewBinDecoder(data)
	entries := make([]ScopeEntry, maxEntries)
	for i := 0; i < maxEntries; i++ {
		value, err := dec.ReadUint64(bin.LE)
		if err != nil {
			return nil, err
		}
		exp, err := dec.ReadUint64(bin.LE)
		if err != nil {
			return nil, err
		}
		ts, err := dec.ReadUint64(bin.LE)
		if err != nil {
			return nil, err
		}
		entries[i] = ScopeEntry{Value: value, Exponent: exp, Timestamp: int64(ts)}
	}
	return entries, nil
}
