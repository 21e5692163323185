// Package oraclecache batch-fetches the oracle accounts referenced by
// the reserve cache and decodes them by owning-program dispatch (Pyth,
// Switchboard, Scope), applying the stablecoin clamp (and, for Scope
// chains, a magnitude range check) as it loads. Freshness is not
// checked at load time; IsFresh lets callers check it when they price.
package oraclecache

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/klend-bot/liquidator/internal/decode"
	"github.com/klend-bot/liquidator/internal/models"
	"github.com/klend-bot/liquidator/internal/reservecache"
	"github.com/klend-bot/liquidator/internal/rpcclient"
)

const (
	maxOracleAge           = 30 * time.Second
	magnitudeMin           = 0.0001
	magnitudeMax           = 1_000_000.0
	stablecoinClampLow     = 0.99
	stablecoinClampHigh    = 1.01
	stablecoinWarnLow      = 0.95
	stablecoinWarnHigh     = 1.05
	solAllowlistSanityLow  = 5.0
	solAllowlistSanityHigh = 2000.0
	solFullMarketWarnLow   = 10.0
	solFullMarketWarnHigh  = 1000.0
	maxAccountsPerBatch    = 100
)

// Cache is an immutable, per-load snapshot of decoded oracle prices
// keyed by mint.
type Cache struct {
	ByMint map[string]*models.OraclePrice
}

// StablecoinMints and SolMint are configuration-adjacent allowlists the
// sanity pass consults. They are package variables (not caller
// parameters) only because the clamp rule is protocol-wide; callers
// that need a different set can replace them before calling Load.
var (
	StablecoinMints = map[string]bool{
		"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": true, // USDC
		"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB": true, // USDT
	}
	SolMint = "So11111111111111111111111111111111111111112"
)

// Load fetches and decodes oracle accounts for every reserve in
// reserves, then runs the SOL/stablecoin sanity pass.
func Load(ctx context.Context, client *rpcclient.Client, reserves *reservecache.Cache, allowlistMode bool, log *logrus.Logger) (*Cache, error) {
	// Collect the unique oracle accounts and the mint each belongs to.
	type oracleRef struct {
		mint string
		addr string
	}
	var refs []oracleRef
	seen := make(map[string]bool)
	for mint, reserve := range reserves.ByMint {
		for _, addr := range reserve.OracleAccounts {
			key := mint + ":" + addr
			if seen[key] {
				continue
			}
			seen[key] = true
			refs = append(refs, oracleRef{mint: mint, addr: addr})
		}
	}

	cache := &Cache{ByMint: make(map[string]*models.OraclePrice)}

	for start := 0; start < len(refs); start += maxAccountsPerBatch {
		end := start + maxAccountsPerBatch
		if end > len(refs) {
			end = len(refs)
		}
		batch := refs[start:end]

		pubkeys := make([]string, len(batch))
		for i, r := range batch {
			pubkeys[i] = r.addr
		}

		accounts, err := client.GetMultipleAccounts(ctx, pubkeys)
		if err != nil {
			return nil, fmt.Errorf("oraclecache: batch fetch: %w", err)
		}

		for i, acc := range accounts {
			if acc == nil || len(acc.Data) == 0 {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(acc.Data[0])
			if err != nil {
				log.WithError(err).WithField("oracle", batch[i].addr).Warn("oraclecache: bad base64, skipping")
				continue
			}

			price, err := decodeByOwner(acc.Owner, raw, reserves, batch[i].mint)
			if err != nil {
				log.WithError(err).WithFields(logrus.Fields{"oracle": batch[i].addr, "mint": batch[i].mint}).Warn("oraclecache: decode failed, skipping")
				continue
			}

			price.Mint = batch[i].mint
			applyStablecoinClamp(price)
			cache.ByMint[batch[i].mint] = price
		}
	}

	if err := sanityCheck(cache, allowlistMode, log); err != nil {
		return nil, err
	}

	return cache, nil
}

func decodeByOwner(owner string, raw []byte, reserves *reservecache.Cache, mint string) (*models.OraclePrice, error) {
	switch {
	case isPythOwner(owner):
		return decodePyth(raw)
	case isSwitchboardOwner(owner):
		return decodeSwitchboard(raw)
	case isScopeOwner(owner):
		return decodeScope(raw, reserves, mint)
	default:
		return nil, fmt.Errorf("unrecognized oracle owner program %s", owner)
	}
}

func decodePyth(raw []byte) (*models.OraclePrice, error) {
	p, err := decode.DecodePythPrice(raw)
	if err != nil {
		return nil, err
	}
	if p.Status != decode.PythStatusTrading {
		return nil, fmt.Errorf("pyth price not trading (status=%d)", p.Status)
	}
	return &models.OraclePrice{
		Variant:    models.OraclePyth,
		Mantissa:   p.Mantissa,
		Exponent:   p.Exponent,
		Confidence: p.Confidence,
		Timestamp:  time.Unix(p.PublishTime, 0),
	}, nil
}

func decodeSwitchboard(raw []byte) (*models.OraclePrice, error) {
	p, err := decode.DecodeSwitchboardPrice(raw)
	if err != nil {
		return nil, err
	}
	return &models.OraclePrice{
		Variant:    models.OracleSwitchboard,
		Mantissa:   p.Mantissa,
		Exponent:   -int32(p.Scale),
		Confidence: p.StdDev,
		Timestamp:  time.Now(), // switchboard result carries a slot, not a wall clock; treated as fresh at fetch time
	}, nil
}

func decodeScope(raw []byte, reserves *reservecache.Cache, mint string) (*models.OraclePrice, error) {
	reserve, ok := reserves.ByMint[mint]
	if !ok || len(reserve.ScopeChain) == 0 {
		return nil, fmt.Errorf("scope: no chain configured for mint %s", mint)
	}

	maxIdx := 0
	for _, hop := range reserve.ScopeChain {
		if int(hop) > maxIdx {
			maxIdx = int(hop)
		}
	}
	entries, err := decode.DecodeScopeFeed(raw, maxIdx+1)
	if err != nil {
		return nil, err
	}

	product := big.NewFloat(1)
	var oldest int64 = -1
	for _, hop := range reserve.ScopeChain {
		entry := entries[hop]
		hopUi := new(big.Float).Quo(
			new(big.Float).SetUint64(entry.Value),
			new(big.Float).SetFloat64(pow10f(uint(-decode.ScopeExponent))),
		)
		product.Mul(product, hopUi)
		if oldest == -1 || entry.Timestamp < oldest {
			oldest = entry.Timestamp
		}
	}

	ui, _ := product.Float64()
	if ui < magnitudeMin || ui > magnitudeMax {
		return nil, fmt.Errorf("scope: chain-derived price %.8f outside sanity range [%v, %v]", ui, magnitudeMin, magnitudeMax)
	}
	mantissa, exponent := uiToMantissaExponent(ui, decode.ScopeExponent)

	return &models.OraclePrice{
		Variant:   models.OracleScope,
		Mantissa:  mantissa,
		Exponent:  exponent,
		Timestamp: time.Unix(oldest, 0),
	}, nil
}

func pow10f(n uint) float64 {
	out := 1.0
	for i := uint(0); i < n; i++ {
		out *= 10
	}
	return out
}

// uiToMantissaExponent reconverts a UI float back into a
// mantissa/exponent pair at the given exponent, so chain-derived
// prices carry the same shape as directly-decoded ones.
func uiToMantissaExponent(ui float64, exponent int32) (int64, int32) {
	scale := pow10f(uint(-exponent))
	return int64(ui * scale), exponent
}

func applyStablecoinClamp(price *models.OraclePrice) {
	if !StablecoinMints[price.Mint] {
		return
	}
	ui := UiPrice(price)
	clamped := ui
	if clamped < stablecoinClampLow {
		clamped = stablecoinClampLow
	}
	if clamped > stablecoinClampHigh {
		clamped = stablecoinClampHigh
	}
	if clamped != ui {
		price.Mantissa, price.Exponent = uiToMantissaExponent(clamped, price.Exponent)
	}
}

// UiPrice converts a price's mantissa/exponent pair into a UI float.
func UiPrice(price *models.OraclePrice) float64 {
	if price == nil {
		return 0
	}
	scale := 1.0
	exp := price.Exponent
	if exp < 0 {
		scale = 1.0 / pow10f(uint(-exp))
	} else {
		scale = pow10f(uint(exp))
	}
	return float64(price.Mantissa) * scale
}

// IsFresh reports whether price is within the freshness window as of
// now.
func IsFresh(price *models.OraclePrice, now time.Time) bool {
	if price == nil {
		return false
	}
	return now.Sub(price.Timestamp) <= maxOracleAge
}

func sanityCheck(cache *Cache, allowlistMode bool, log *logrus.Logger) error {
	solPrice, haveSol := cache.ByMint[SolMint]
	if allowlistMode {
		if !haveSol {
			return fmt.Errorf("oraclecache: SOL is allowlisted but no oracle price was loaded")
		}
		ui := UiPrice(solPrice)
		if ui < solAllowlistSanityLow || ui > solAllowlistSanityHigh {
			return fmt.Errorf("oraclecache: SOL price %.4f out of sanity range [%v, %v]", ui, solAllowlistSanityLow, solAllowlistSanityHigh)
		}
	} else if haveSol {
		ui := UiPrice(solPrice)
		if ui < solFullMarketWarnLow || ui > solFullMarketWarnHigh {
			log.WithField("sol_price", ui).Warn("oraclecache: SOL price outside expected full-market range")
		}
	}

	for mint := range StablecoinMints {
		price, ok := cache.ByMint[mint]
		if !ok {
			continue
		}
		ui := UiPrice(price)
		if ui < stablecoinWarnLow || ui > stablecoinWarnHigh {
			log.WithFields(logrus.Fields{"mint": mint, "price": ui}).Warn("oraclecache: stablecoin price outside expected range")
		}
	}

	return nil
}
