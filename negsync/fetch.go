package negsync

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nostrc/negsync/negentropy"
	"github.com/nostrc/negsync/nostr"
	"github.com/nostrc/negsync/relay"
)

// fetcher requests events by ID from a relay in batches and ingests them
// into the store.
type fetcher struct {
	logger *zap.Logger
	cfg    *Config
	clock  clockwork.Clock
	conn   *relay.Conn
	store  Store
}

func (f *fetcher) limiter() *rate.Limiter {
	if f.cfg.FetchRate <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(f.cfg.FetchRate), 1)
}

// fetch returns the number of events ingested, which is meaningful even
// when an error is returned.
func (f *fetcher) fetch(ctx context.Context, ids []negentropy.ID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	batchSize := max(f.cfg.BatchSize, 1)
	limiter := f.limiter()
	total := 0
	for start := 0; start < len(ids); start += batchSize {
		if ctx.Err() != nil {
			return total, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		if err := limiter.Wait(ctx); err != nil {
			return total, fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		batch := ids[start:min(start+batchSize, len(ids))]
		n, err := f.fetchBatch(ctx, batch)
		total += n
		if err != nil {
			return total, err
		}
	}
	f.logger.Debug("fetched missing events", zap.Int("requested", len(ids)), zap.Int("stored", total))
	return total, nil
}

func (f *fetcher) fetchBatch(ctx context.Context, batch []negentropy.ID) (int, error) {
	sub := "fetch-" + uuid.NewString()
	mb := f.conn.Claim(relay.MatchSub(sub), f.cfg.MailboxSize)
	defer mb.Release()

	requested := make(map[nostr.ID]struct{}, len(batch))
	hexIDs := make([]string, 0, len(batch))
	for _, id := range batch {
		requested[nostr.ID(id)] = struct{}{}
		hexIDs = append(hexIDs, id.String())
	}
	if err := f.conn.Send(ctx, nostr.Req(sub, nostr.Filter{IDs: hexIDs})); err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		return 0, fmt.Errorf("%w: send REQ: %w", ErrConnection, err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if err := f.conn.Send(closeCtx, nostr.Close(sub)); err != nil {
			f.logger.Debug("failed to send CLOSE", zap.Error(err))
		}
	}()

	timer := f.clock.NewTimer(f.cfg.BatchTimeout)
	defer timer.Stop()
	stored := 0
	for {
		select {
		case <-ctx.Done():
			return stored, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		case <-timer.Chan():
			f.logger.Debug("fetch batch timed out",
				zap.Int("requested", len(batch)),
				zap.Int("stored", stored))
			return stored, nil
		case <-mb.Done():
			return stored, fmt.Errorf("%w: %w", ErrConnection, connErr(f.conn))
		case env := <-mb.C():
			switch env.Label {
			case nostr.LabelEOSE:
				return stored, nil
			case nostr.LabelClosed:
				reason, _ := env.String(1)
				f.logger.Debug("fetch subscription closed by relay", zap.String("reason", reason))
				return stored, nil
			case nostr.LabelEvent:
				if f.ingest(ctx, env, requested) {
					stored++
				}
			}
		}
	}
}

func (f *fetcher) ingest(ctx context.Context, env nostr.Envelope, requested map[nostr.ID]struct{}) bool {
	ev, raw, err := env.Event(1)
	if err != nil {
		f.logger.Debug("bad event from relay", zap.Error(err))
		return false
	}
	id, err := ev.BinaryID()
	if err != nil {
		f.logger.Debug("bad event id from relay", zap.Error(err))
		return false
	}
	if _, found := requested[id]; !found {
		f.logger.Debug("ignoring unrequested event", zap.String("id", id.ShortString()))
		return false
	}
	if f.cfg.VerifyIDs && !ev.CheckID() {
		f.logger.Warn("event id doesn't match its content", zap.String("id", id.ShortString()))
		return false
	}
	delete(requested, id)
	if err := f.store.Ingest(ctx, raw); err != nil {
		f.logger.Warn("failed to ingest event", zap.String("id", id.ShortString()), zap.Error(err))
		return false
	}
	return true
}
