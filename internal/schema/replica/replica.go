// Package replica implements read-only Store replicas for shards other
// than the coordinator. A Replica never writes; it only ever catches
// its own Store up, either lazily in response to the coordinator's
// offset-advance broadcast or synchronously when a REST handler on its
// shard calls ReadSync.
package replica

import (
	"context"
	"log/slog"

	"github.com/nimbusdata/schema-registry/internal/schema/applier"
	"github.com/nimbusdata/schema-registry/internal/schema/catchup"
	"github.com/nimbusdata/schema-registry/internal/schema/logclient"
	"github.com/nimbusdata/schema-registry/internal/schema/store"
	"github.com/nimbusdata/schema-registry/internal/schema/types"
)

// Replica owns one shard-local Store and keeps it loosely in sync with
// the coordinator by subscribing to its Notifier.
type Replica struct {
	store *store.Store
	catch *catchup.Catcher

	notify <-chan int64
	log    *slog.Logger
}

// New constructs a Replica bound to a fresh Store and starts its
// background catch-up loop. notifier is the coordinator Writer's
// Notifier; pass nil to disable lazy catch-up (the Replica still
// serves ReadSync on demand).
func New(client logclient.Client, tp logclient.TopicPartition, defaultCompat types.CompatibilityLevel, notifier *catchup.Notifier, log *slog.Logger) *Replica {
	s := store.New(defaultCompat)
	a := applier.New(s)
	r := &Replica{
		store: s,
		catch: catchup.New(client, tp, a, nil, -1),
		log:   log,
	}
	if notifier != nil {
		r.notify = notifier.Subscribe()
		go r.watch()
	}
	return r
}

// Store returns the replica's Store. Callers that need read-your-writes
// should call ReadSync first.
func (r *Replica) Store() *store.Store { return r.store }

// ReadSync catches this replica up to the current tail of the internal
// topic, establishing read-your-writes for the calling shard.
func (r *Replica) ReadSync(ctx context.Context) error {
	return r.catch.ReadSync(ctx)
}

// watch lazily applies offsets the coordinator broadcasts, so a
// replica's Store stays close to current even between explicit
// ReadSync calls.
func (r *Replica) watch() {
	ctx := context.Background()
	for offset := range r.notify {
		if err := r.catch.WaitFor(ctx, offset); err != nil {
			if r.log != nil {
				r.log.Error("replica catch-up failed", "offset", offset, "error", err)
			}
			continue
		}
	}
}
