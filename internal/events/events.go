// Package events publishes Mirror Agent activity to NATS.
//
// Subjects:
//
//	mirror.{site_id}.interactions   every routed question
//	mirror.{site_id}.promotions     every FAQ promotion
//	mirror.{site_id}.provisioning   every provisioning step outcome
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
)

// Subject kinds.
const (
	KindInteractions = "interactions"
	KindPromotions   = "promotions"
	KindProvisioning = "provisioning"
)

// Subject returns mirror.{siteID}.{kind}.
func Subject(siteID, kind string) string {
	return fmt.Sprintf("mirror.%s.%s", siteID, kind)
}

// Publisher emits domain events. Publishing is best effort; callers log
// errors and carry on.
type Publisher interface {
	PublishInteraction(ctx context.Context, in *mirror.Interaction) error
	PublishPromotion(ctx context.Context, c *mirror.FAQCandidate) error
	PublishStep(ctx context.Context, siteID string, step mirror.StepOutcome) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) PublishInteraction(context.Context, *mirror.Interaction) error { return nil }
func (Nop) PublishPromotion(context.Context, *mirror.FAQCandidate) error  { return nil }
func (Nop) PublishStep(context.Context, string, mirror.StepOutcome) error { return nil }
func (Nop) Close() error                                                  { return nil }

// NATSPublisher publishes JSON payloads on a NATS connection.
type NATSPublisher struct {
	nc     *nats.Conn
	owned  bool
	logger *zap.Logger
}

// Connect dials url and returns a publisher that owns the connection.
func Connect(url string, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	nc, err := nats.Connect(url,
		nats.Name("mirroragent"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, mirror.Unavailable("nats", err)
	}
	logger.Info("connected to NATS", zap.String("url", nc.ConnectedUrlRedacted()))
	return &NATSPublisher{nc: nc, owned: true, logger: logger}, nil
}

// NewNATSPublisher wraps an existing connection. Close leaves nc open.
func NewNATSPublisher(nc *nats.Conn, logger *zap.Logger) *NATSPublisher {
	return &NATSPublisher{nc: nc, logger: logger}
}

func (p *NATSPublisher) publish(ctx context.Context, subject string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(subject, data); err != nil {
		return mirror.Unavailable("nats", fmt.Errorf("publish %s: %w", subject, err))
	}
	return nil
}

func (p *NATSPublisher) PublishInteraction(ctx context.Context, in *mirror.Interaction) error {
	return p.publish(ctx, Subject(in.SiteID, KindInteractions), in)
}

func (p *NATSPublisher) PublishPromotion(ctx context.Context, c *mirror.FAQCandidate) error {
	return p.publish(ctx, Subject(c.SiteID, KindPromotions), c)
}

// StepEvent is the payload on the provisioning subject.
type StepEvent struct {
	SiteID string             `json:"site_id"`
	Step   mirror.StepOutcome `json:"step"`
}

func (p *NATSPublisher) PublishStep(ctx context.Context, siteID string, step mirror.StepOutcome) error {
	return p.publish(ctx, Subject(siteID, KindProvisioning), StepEvent{SiteID: siteID, Step: step})
}

// Close drains the connection if the publisher owns it.
func (p *NATSPublisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.nc.Drain()
}
