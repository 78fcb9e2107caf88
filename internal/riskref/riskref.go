package riskref

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rawblock/wallet-investigator/internal/heuristics"
	"github.com/rawblock/wallet-investigator/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Known-risk reference loaders
//
// The reference feed is a set of Redis hashes, one per chain:
//
//	HSET riskref:ethereum 0xabc... "sanctioned|Lazarus cluster"
//	HSET riskref:bitcoin  bc1q...  "mixer|Wasabi coordinator|0.7"
//
// Field is the address, value is "category[|label[|severity]]". A missing
// severity takes the category default.

// HashReader is the slice of the Redis client the loader needs
type HashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// KnownRiskSource is the persistent store of reference entries
type KnownRiskSource interface {
	LoadKnownRiskAddresses(ctx context.Context) ([]heuristics.WatchedAddress, error)
}

// ParseEntry decodes one hash value. The address is canonicalized for chain.
func ParseEntry(chain models.ChainID, address, value string) (heuristics.WatchedAddress, error) {
	parts := strings.Split(value, "|")
	category := strings.ToLower(strings.TrimSpace(parts[0]))
	if category == "" {
		return heuristics.WatchedAddress{}, fmt.Errorf("riskref: empty category for %s", address)
	}
	entry := heuristics.WatchedAddress{
		Address:  models.NewAddress(chain, strings.TrimSpace(address)),
		Category: category,
		Source:   "redis",
	}
	if len(parts) > 1 {
		entry.Label = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		sev, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil || sev < 0 || sev > 1 {
			return heuristics.WatchedAddress{}, fmt.Errorf("riskref: bad severity %q for %s", parts[2], address)
		}
		entry.Severity = sev
	}
	return entry, nil
}

// LoadFromRedis reads <keyPrefix>:<chain> for every chain into wl and
// returns how many entries were added. Malformed values are skipped.
func LoadFromRedis(ctx context.Context, client HashReader, keyPrefix string, chains []models.ChainID, wl *heuristics.AddressWatchlist) (int, error) {
	loaded := 0
	for _, chain := range chains {
		key := keyPrefix + ":" + string(chain)
		fields, err := client.HGetAll(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return loaded, fmt.Errorf("riskref: HGETALL %s: %w", key, err)
		}
		for addr, value := range fields {
			entry, err := ParseEntry(chain, addr, value)
			if err != nil {
				log.Warn().Err(err).Str("key", key).Msg("riskref: skipping malformed entry")
				continue
			}
			wl.Add(entry)
			loaded++
		}
	}
	return loaded, nil
}

// LoadFromPostgres warm-starts wl from the persistent store
func LoadFromPostgres(ctx context.Context, src KnownRiskSource, wl *heuristics.AddressWatchlist) (int, error) {
	entries, err := src.LoadKnownRiskAddresses(ctx)
	if err != nil {
		return 0, fmt.Errorf("riskref: load known-risk addresses: %w", err)
	}
	for _, e := range entries {
		if e.Source == "" {
			e.Source = "postgres"
		}
		wl.Add(e)
	}
	return len(entries), nil
}

// Refresher reloads the Redis feed on an interval until ctx ends
type Refresher struct {
	Client    HashReader
	KeyPrefix string
	Chains    []models.ChainID
	Watchlist *heuristics.AddressWatchlist
	Interval  time.Duration
}

// Run blocks; a failed refresh keeps the previous entries
func (r *Refresher) Run(ctx context.Context) {
	if r.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := LoadFromRedis(ctx, r.Client, r.KeyPrefix, r.Chains, r.Watchlist)
			if err != nil {
				log.Warn().Err(err).Msg("riskref: refresh failed, keeping previous entries")
				continue
			}
			log.Debug().Int("entries", n).Int("watchlist", r.Watchlist.Size()).Msg("riskref: refreshed")
		}
	}
}
