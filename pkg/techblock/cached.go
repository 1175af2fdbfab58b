package techblock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/haivivi/ecostream/pkg/cache"
)

// CachePrefix is the key prefix of cached blocks.
const CachePrefix = "bloco:"

// keyReplyRunes bounds how much of the reply feeds the cache key.
const keyReplyRunes = 200

// Cached memoizes an Extractor in a cache.Cache. Only non-empty blocks are
// stored, so a failed extraction is retried on the next call.
type Cached struct {
	Extractor Extractor
	loader    *cache.Loader[Block]
}

// NewCached wraps ex with a read-through cache.
func NewCached(ex Extractor, c cache.Cache, ttl time.Duration) *Cached {
	return &Cached{Extractor: ex, loader: cache.NewLoader[Block](c, CachePrefix, ttl)}
}

// Key returns the cache key of an exchange, without prefix.
func Key(in Input) string {
	reply := []rune(in.Reply)
	if len(reply) > keyReplyRunes {
		reply = reply[:keyReplyRunes]
	}
	sum := sha256.Sum256([]byte(in.UserMessage + string(reply)))
	return hex.EncodeToString(sum[:])
}

// Extract implements Extractor.
func (c *Cached) Extract(ctx context.Context, in Input) (*Block, error) {
	b, hit, err := c.loader.GetOrLoad(ctx, Key(in), func(ctx context.Context) (Block, error) {
		blk, err := c.Extractor.Extract(ctx, in)
		if err != nil {
			slog.Debug("techblock: extraction degraded", "error", err)
		}
		if blk == nil {
			blk = Blank()
		}
		return *blk, nil
	}, func(b Block) bool {
		return !b.IsEmpty()
	})
	if err != nil {
		return Blank(), err
	}
	if hit {
		slog.Debug("techblock: cache hit")
	}
	if b.Tags == nil {
		b.Tags = []string{}
	}
	return &b, nil
}
