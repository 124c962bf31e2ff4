package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/richinex/skein/model"
)

// Entry is one cached answer. ModeAny marks a tier-1 entry that
// answers the query regardless of requested mode; everything else is
// tier 2 and only matches its own mode.
type Entry struct {
	Hash      string
	Mode      string
	Answer    model.Answer
	CreatedAt time.Time
	Hits      int
	Upvotes   int
}

// ModeAny is the mode value of tier-1 entries.
const ModeAny = "any"

// Store is the persistence backend for cached answers. Implementations
// must treat (Hash, Mode) as the primary key.
type Store interface {
	GetEntry(ctx context.Context, hash, mode string) (*Entry, error)
	PutEntry(ctx context.Context, entry Entry) error
	RecordHit(ctx context.Context, hash, mode string) error
	RecordUpvote(ctx context.Context, hash, mode string) (upvotes int, err error)
	DeleteEntries(ctx context.Context, hash string) error
}

// Config tunes cache behavior.
type Config struct {
	TTL time.Duration
	// PromoteAfter is the upvote count at which a tier-2 entry is
	// copied into tier 1.
	PromoteAfter int
	// OnPromote is called once when an entry crosses the threshold,
	// after it has landed in tier 1. External knowledge stores hook in
	// here; the cache itself only emits the event.
	OnPromote func(ctx context.Context, entry Entry)
}

func DefaultConfig() Config {
	return Config{
		TTL:          24 * time.Hour,
		PromoteAfter: 3,
	}
}

// Cache is the two-tier answer cache. Storage failures are logged and
// reported as misses; a broken cache degrades latency, never
// availability.
type Cache struct {
	store  Store
	config Config
	logger *slog.Logger
	now    func() time.Time
}

func New(store Store, config Config, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if config.TTL <= 0 {
		config.TTL = DefaultConfig().TTL
	}
	if config.PromoteAfter <= 0 {
		config.PromoteAfter = DefaultConfig().PromoteAfter
	}
	return &Cache{store: store, config: config, logger: logger, now: time.Now}
}

// Lookup returns the cached answer for a query, or nil on a miss.
// Tier 1 is consulted first, then tier 2 under the requested mode.
// Expired entries are misses. Errors from the store are misses.
func (c *Cache) Lookup(ctx context.Context, query string, mode model.Mode) *model.Answer {
	hash := QueryHash(query)

	for _, tier := range []string{ModeAny, string(mode)} {
		entry, err := c.store.GetEntry(ctx, hash, tier)
		if err != nil {
			c.logger.Warn("cache lookup failed, treating as miss",
				"hash", hash, "mode", tier, "error", err)
			return nil
		}
		if entry == nil {
			continue
		}
		if c.now().Sub(entry.CreatedAt) > c.config.TTL {
			continue
		}
		if err := c.store.RecordHit(ctx, hash, tier); err != nil {
			c.logger.Warn("cache hit count update failed", "hash", hash, "error", err)
		}
		answer := entry.Answer
		answer.Cached = true
		return &answer
	}
	return nil
}

// Put stores a fresh answer under the query's hash and mode (tier 2).
func (c *Cache) Put(ctx context.Context, query string, mode model.Mode, answer model.Answer) error {
	entry := Entry{
		Hash:      QueryHash(query),
		Mode:      string(mode),
		Answer:    answer,
		CreatedAt: c.now(),
	}
	if err := c.store.PutEntry(ctx, entry); err != nil {
		return fmt.Errorf("store cache entry: %w", err)
	}
	return nil
}

// Upvote records positive feedback on a cached answer. Once an entry
// collects enough upvotes it is promoted to tier 1 and starts serving
// all modes.
func (c *Cache) Upvote(ctx context.Context, query string, mode model.Mode) error {
	hash := QueryHash(query)

	upvotes, err := c.store.RecordUpvote(ctx, hash, string(mode))
	if err != nil {
		return fmt.Errorf("record upvote: %w", err)
	}
	// Promote exactly at the crossing, not on every vote past it.
	if upvotes != c.config.PromoteAfter {
		return nil
	}

	entry, err := c.store.GetEntry(ctx, hash, string(mode))
	if err != nil {
		return fmt.Errorf("load entry for promotion: %w", err)
	}
	if entry == nil {
		return fmt.Errorf("entry %s/%s vanished before promotion", hash, mode)
	}
	promoted := *entry
	promoted.Mode = ModeAny
	promoted.CreatedAt = c.now()
	if err := c.store.PutEntry(ctx, promoted); err != nil {
		return fmt.Errorf("promote entry: %w", err)
	}
	if c.config.OnPromote != nil {
		c.config.OnPromote(ctx, promoted)
	}
	c.logger.Info("cache entry promoted to tier 1", "hash", hash, "upvotes", upvotes)
	return nil
}

// Invalidate removes every cached answer for the query, all modes and
// tiers. Called on negative feedback so a bad answer is never served
// again.
func (c *Cache) Invalidate(ctx context.Context, query string) error {
	hash := QueryHash(query)
	if err := c.store.DeleteEntries(ctx, hash); err != nil {
		return fmt.Errorf("invalidate cache entries: %w", err)
	}
	c.logger.Info("cache entries invalidated", "hash", hash)
	return nil
}
