package indexer

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyCursorLT   = "ton-indexer:cursor:lt"
	keyCursorHash = "ton-indexer:cursor:hash"
	keyProcessed  = "ton-indexer:tx:"
	processedTTL  = 7 * 24 * time.Hour
)

// Cursor keeps the indexer's position in the hot wallet's transaction list
// and the set of transactions already handled.
type Cursor struct {
	rdb *redis.Client
}

func NewCursor(rdb *redis.Client) *Cursor {
	return &Cursor{rdb: rdb}
}

// Load returns the saved position. ok is false on first run.
func (c *Cursor) Load(ctx context.Context) (lt uint64, hash []byte, ok bool, err error) {
	val, err := c.rdb.Get(ctx, keyCursorLT).Result()
	if err == redis.Nil {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, err
	}
	lt, err = strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, nil, false, fmt.Errorf("cursor lt %q: %w", val, err)
	}
	if h, err := c.rdb.Get(ctx, keyCursorHash).Result(); err == nil {
		hash, _ = hex.DecodeString(h)
	}
	return lt, hash, true, nil
}

func (c *Cursor) Save(ctx context.Context, lt uint64, hash []byte) error {
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, keyCursorLT, strconv.FormatUint(lt, 10), 0)
		p.Set(ctx, keyCursorHash, hex.EncodeToString(hash), 0)
		return nil
	})
	return err
}

// Seen reports whether the transaction at lt was already handled.
func (c *Cursor) Seen(ctx context.Context, lt uint64) (bool, error) {
	n, err := c.rdb.Exists(ctx, processedKey(lt)).Result()
	return n > 0, err
}

// Mark records the outcome of the transaction at lt.
func (c *Cursor) Mark(ctx context.Context, lt uint64, outcome string) error {
	return c.rdb.Set(ctx, processedKey(lt), outcome, processedTTL).Err()
}

func processedKey(lt uint64) string {
	return keyProcessed + strconv.FormatUint(lt, 10)
}

var _ CursorStore = (*Cursor)(nil)
