// Package purge turns sync results into cache invalidation messages.
package purge

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/repack-catalog/internal/catalog"
	"github.com/JakeFAU/repack-catalog/internal/slug"
	"github.com/JakeFAU/repack-catalog/internal/syncer"
)

// DefaultIndexTag is the tag shared by every cached listing response.
const DefaultIndexTag = "catalog"

// Timeout bounds a purge issued after a sync run.
const Timeout = 30 * time.Second

// Detach returns a context for purging the results of a run whose own context
// may already be done. Values such as trace spans carry over; cancellation
// does not.
func Detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), Timeout)
}

// Invalidation is the message body published for each purge.
type Invalidation struct {
	Tags []string `json:"tags"`
}

// Tags returns the index tag followed by one cache tag per added release.
func Tags(indexTag string, added []syncer.AddedRelease) []string {
	tags := make([]string, 0, len(added)+1)
	tags = append(tags, indexTag)
	for _, a := range added {
		tags = append(tags, slug.CacheTag(a.Slug))
	}
	return tags
}

// Invalidator is implemented by Purger and by the no-op used when purging is
// disabled.
type Invalidator interface {
	Purge(ctx context.Context, tags []string) error
}

// Config controls how invalidations are published.
type Config struct {
	Topic string
	// PerTag publishes one message per tag instead of one batched message.
	PerTag bool
}

// Purger publishes invalidations through a catalog.Publisher.
type Purger struct {
	publisher catalog.Publisher
	cfg       Config
	logger    *zap.Logger
}

// New builds a Purger.
func New(publisher catalog.Publisher, cfg Config, logger *zap.Logger) (*Purger, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Purger{publisher: publisher, cfg: cfg, logger: logger.Named("purge")}, nil
}

// WithPerTag returns a copy of p that publishes each tag separately.
func (p *Purger) WithPerTag() *Purger {
	cp := *p
	cp.cfg.PerTag = true
	return &cp
}

// Purge publishes the invalidation for tags. An empty tag list is a no-op.
func (p *Purger) Purge(ctx context.Context, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	if !p.cfg.PerTag {
		return p.publish(ctx, tags)
	}
	for _, tag := range tags {
		if err := p.publish(ctx, []string{tag}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Purger) publish(ctx context.Context, tags []string) error {
	id, err := p.publisher.Publish(ctx, p.cfg.Topic, Invalidation{Tags: tags})
	if err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	p.logger.Info("cache invalidation published", zap.String("message_id", id), zap.Strings("tags", tags))
	return nil
}

// Noop discards invalidations.
type Noop struct{}

// Purge does nothing.
func (Noop) Purge(context.Context, []string) error { return nil }
