// Package reservecache scans the lending program for reserve accounts
// and builds a two-way index: every reserve is reachable by its own
// address and by either of its mints (liquidity and collateral map to
// the same record).
package reservecache

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"

	"github.com/klend-bot/liquidator/internal/decode"
	"github.com/klend-bot/liquidator/internal/models"
	"github.com/klend-bot/liquidator/internal/rpcclient"
)

// minHealthyReserveCount below this the cache warns of a likely
// configuration or RPC problem.
const minHealthyReserveCount = 5

// Cache is the two-way reserve index plus the global Scope mint->chain
// table. It is immutable once built; reload installs a new Cache via
// pointer swap, never mutates an existing one in place.
type Cache struct {
	ByMint    map[string]*models.Reserve
	ByReserve map[string]*models.Reserve
	// ScopeChains maps a mint to its Scope hop-index chain, populated
	// for every reserve that carries one.
	ScopeChains map[string][]uint16
}

// Load scans the lending program for reserve accounts, decodes them,
// optionally filters by an allowlist of liquidity mints, and builds
// the cache. RPC transport errors propagate; per-reserve decode
// failures are logged and skipped; reserves with unresolvable decimals
// are dropped.
func Load(ctx context.Context, rc *rpcclient.Client, programID string, allowlistMints []string, log *logrus.Logger) (*Cache, error) {
	allowSet := make(map[string]bool, len(allowlistMints))
	for _, m := range allowlistMints {
		allowSet[m] = true
	}

	filter := rpcclient.MemcmpFilter{
		Offset: 0,
		Bytes:  base64.StdEncoding.EncodeToString(decode.ReserveDiscriminator[:]),
	}

	accounts, err := rc.GetProgramAccounts(ctx, programID, []rpcclient.MemcmpFilter{filter})
	if err != nil {
		return nil, fmt.Errorf("reservecache: scan program accounts: %w", err)
	}

	cache := &Cache{
		ByMint:      make(map[string]*models.Reserve),
		ByReserve:   make(map[string]*models.Reserve),
		ScopeChains: make(map[string][]uint16),
	}

	for _, acc := range accounts {
		pk, err := solana.PublicKeyFromBase58(acc.Pubkey)
		if err != nil {
			log.WithError(err).WithField("pubkey", acc.Pubkey).Warn("reservecache: invalid pubkey, skipping")
			continue
		}
		if len(acc.Account.Data) == 0 {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(acc.Account.Data[0])
		if err != nil {
			log.WithError(err).WithField("reserve", pk.String()).Warn("reservecache: bad base64, skipping")
			continue
		}

		reserve, err := decode.DecodeReserve(pk, raw)
		if err != nil {
			log.WithError(err).WithField("reserve", pk.String()).Warn("reservecache: decode failed, skipping")
			continue
		}

		if len(allowSet) > 0 && !allowSet[reserve.LiquidityMint] && !allowSet[reserve.CollateralMint] {
			continue
		}

		if err := resolveDecimals(ctx, rc, reserve, log); err != nil {
			log.WithError(err).WithField("reserve", pk.String()).Warn("reservecache: unresolved decimals, dropping")
			continue
		}

		cache.ByReserve[reserve.Address] = reserve
		cache.ByMint[reserve.LiquidityMint] = reserve
		cache.ByMint[reserve.CollateralMint] = reserve
		if len(reserve.ScopeChain) > 0 {
			cache.ScopeChains[reserve.LiquidityMint] = reserve.ScopeChain
		}
	}

	if len(cache.ByReserve) < minHealthyReserveCount {
		log.WithField("count", len(cache.ByReserve)).Warn("reservecache: fewer than expected reserves survived, check configuration/RPC")
	}

	return cache, nil
}

// resolveDecimals ensures both decimals fields are populated, falling
// back to an SPL-mint account fetch when the decoded reserve left them
// at zero for a genuinely non-zero-decimal mint. Reserves whose
// decimals remain unresolvable after the fallback are rejected by the
// caller.
func resolveDecimals(ctx context.Context, rc *rpcclient.Client, reserve *models.Reserve, log *logrus.Logger) error {
	if reserve.LiquidityDecimals > 0 && reserve.CollateralDecimals > 0 {
		return nil
	}

	mints := make([]string, 0, 2)
	if reserve.LiquidityDecimals == 0 {
		mints = append(mints, reserve.LiquidityMint)
	}
	if reserve.CollateralDecimals == 0 {
		mints = append(mints, reserve.CollateralMint)
	}
	if len(mints) == 0 {
		return nil
	}

	accounts, err := rc.GetMultipleAccounts(ctx, mints)
	if err != nil {
		return fmt.Errorf("spl-mint fallback fetch: %w", err)
	}

	for i, m := range mints {
		if i >= len(accounts) || accounts[i] == nil || len(accounts[i].Data) == 0 {
			return fmt.Errorf("mint %s: no account data for decimals fallback", m)
		}
		raw, err := base64.StdEncoding.DecodeString(accounts[i].Data[0])
		if err != nil || len(raw) < 45 {
			return fmt.Errorf("mint %s: malformed mint account", m)
		}
		// SPL Token Mint layout: decimals is the single byte at offset 44.
		decimals := raw[44]
		if decimals == 0 {
			return fmt.Errorf("mint %s: still unresolved after fallback", m)
		}
		if m == reserve.LiquidityMint {
			reserve.LiquidityDecimals = decimals
		}
		if m == reserve.CollateralMint {
			reserve.CollateralDecimals = decimals
		}
	}

	if reserve.LiquidityDecimals == 0 || reserve.CollateralDecimals == 0 {
		return fmt.Errorf("decimals still unresolved")
	}
	return nil
}

// ExchangeRate computes collateralSupplyUi / totalLiquidityUi in wide
// integer form before any float conversion. Returns 0 (undefined) when
// either side is non-positive.
func (c *Cache) ExchangeRate(reserve *models.Reserve) float64 {
	return exchangeRate(reserve)
}
