package tilesource

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/mohammed-shakir/tileloader/internal/core/observability"
	"github.com/mohammed-shakir/tileloader/internal/netchan"
	"github.com/mohammed-shakir/tileloader/internal/tile"
	"github.com/mohammed-shakir/tileloader/internal/tileerr"
)

// Loader fetches tiles one at a time. It is not safe for concurrent use.
type Loader struct {
	src *Source
	ch  *netchan.Channel
	buf bytes.Buffer
}

// Load returns the decoded content of id. wanted is polled once the
// response header arrived; when it reports false the body is drained
// without decoding and an error wrapping tileerr.ErrCanceled is returned.
func (l *Loader) Load(ctx context.Context, id tile.ID, wanted func() bool) (*tile.Content, error) {
	start := time.Now()
	c, from, err := l.load(ctx, id, wanted)
	outcome := tileerr.Kind(err)
	if err == nil {
		outcome = from
	}
	observability.ObserveTileLoad(l.src.cfg.Name, outcome, time.Since(start).Seconds())
	return c, err
}

func (l *Loader) load(ctx context.Context, id tile.ID, wanted func() bool) (*tile.Content, string, error) {
	key, err := l.src.Key(id)
	if err != nil {
		return nil, "", err
	}
	if c := l.fromStore(ctx, id, key); c != nil {
		return c, "store", nil
	}

	if err := l.ch.SendRequest(ctx, l.src.Path(id)); err != nil {
		return nil, "", fmt.Errorf("tile %s: %w", id, err)
	}
	body, err := l.ch.ReadResponse()
	if err != nil {
		return nil, "", fmt.Errorf("tile %s: %w", id, err)
	}
	if wanted != nil && !wanted() {
		l.ch.RequestCompleted(true)
		return nil, "", fmt.Errorf("tile %s: %w", id, tileerr.ErrCanceled)
	}

	store := l.src.store
	if store != nil {
		l.buf.Reset()
		body.SetTee(&l.buf)
	}
	c, err := l.src.dec.Decode(id, body)
	l.ch.RequestCompleted(err == nil)
	if err != nil {
		return nil, "", err
	}

	if store != nil {
		payload := bytes.Clone(l.buf.Bytes())
		if err := store.Set(ctx, key, payload, l.src.cfg.StoreTTL); err != nil {
			l.src.log.WarnContext(ctx, "store tile payload", "tile", id.String(), "err", err)
		}
	}
	return c, "network", nil
}

// fromStore returns nil on a miss. A payload that no longer decodes is
// deleted so the next load goes to the network.
func (l *Loader) fromStore(ctx context.Context, id tile.ID, key string) *tile.Content {
	store := l.src.store
	if store == nil {
		return nil
	}
	vals, err := store.MGet(ctx, []string{key})
	if err != nil {
		l.src.log.WarnContext(ctx, "tile store lookup failed", "tile", id.String(), "err", err)
		return nil
	}
	payload, ok := vals[key]
	if !ok {
		return nil
	}
	c, err := l.src.dec.Decode(id, bytes.NewReader(payload))
	if err != nil {
		l.src.log.WarnContext(ctx, "discarding stored tile payload", "tile", id.String(), "err", err)
		_ = store.Del(ctx, key)
		return nil
	}
	return c
}

func (l *Loader) Close() error { return l.ch.Close() }
