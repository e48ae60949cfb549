package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/request-engine/internal/config"
	"github.com/spec-kit/request-engine/internal/domain"
	"github.com/spec-kit/request-engine/internal/events"
)

// Notification is one human-readable feed entry derived from a lifecycle event.
type Notification struct {
	ID         string           `json:"id"`
	Recipient  domain.Recipient `json:"recipient"`
	RequestID  int64            `json:"request_id"`
	Trigger    domain.Trigger   `json:"trigger"`
	Message    string           `json:"message"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// NotificationService turns bus events into per-recipient notification feeds.
// Feeds are kept in memory and capped; older entries fall off.
type NotificationService struct {
	bus    *events.Bus
	logger *zap.Logger
	cfg    config.NotificationConfig

	mu    sync.RWMutex
	feeds map[domain.Recipient][]Notification
}

// NewNotificationService creates the service. The bus is injected here and
// never looked up later.
func NewNotificationService(bus *events.Bus, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FeedSize <= 0 {
		cfg.FeedSize = 100
	}
	return &NotificationService{
		bus:    bus,
		logger: logger,
		cfg:    cfg,
		feeds:  make(map[domain.Recipient][]Notification),
	}
}

// Run consumes every lifecycle event until ctx is done.
func (n *NotificationService) Run(ctx context.Context) error {
	return events.Consume(ctx, n.bus, events.ConsumerOptions{
		Name:   "notifications",
		Filter: events.NewFilter(events.AllRooms),
		Logger: n.logger,
	}, n.Handle)
}

// Handle derives notifications from one envelope.
func (n *NotificationService) Handle(ctx context.Context, env events.Envelope) error {
	event := env.Event
	message := describe(event)
	for _, recipient := range recipients(event) {
		n.append(Notification{
			ID:         fmt.Sprintf("%s:%s", event.ID, recipient),
			Recipient:  recipient,
			RequestID:  event.RequestID,
			Trigger:    event.Trigger,
			Message:    message,
			OccurredAt: event.OccurredAt,
		})
	}
	n.logger.Debug("notification derived",
		zap.Int64("request_id", event.RequestID),
		zap.String("trigger", string(event.Trigger)),
		zap.String("message", message))

	switch event.Trigger {
	case domain.TriggerResolve, domain.TriggerCancel:
		n.sendEmailNotificationStub(ctx, event, message)
	}
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

// Feed returns up to limit notifications of recipient, newest first.
func (n *NotificationService) Feed(recipient domain.Recipient, limit int) []Notification {
	if recipient == "" {
		return []Notification{}
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	feed := n.feeds[recipient]
	if limit <= 0 || limit > len(feed) {
		limit = len(feed)
	}
	out := make([]Notification, 0, limit)
	for i := len(feed) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, feed[i])
	}
	return out
}

func (n *NotificationService) append(item Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	feed := append(n.feeds[item.Recipient], item)
	if len(feed) > n.cfg.FeedSize {
		feed = feed[len(feed)-n.cfg.FeedSize:]
	}
	n.feeds[item.Recipient] = feed
}

func recipients(event domain.LifecycleEvent) []domain.Recipient {
	out := []domain.Recipient{domain.ClientRecipient(event.ClientRef)}
	if event.AssigneeRef != nil {
		out = append(out, domain.StaffRecipient(*event.AssigneeRef))
	}
	return out
}

func describe(event domain.LifecycleEvent) string {
	switch event.Trigger {
	case domain.TriggerAccept:
		return fmt.Sprintf("Request #%d was accepted by agent %d", event.RequestID, event.ActorRef)
	case domain.TriggerPause:
		return fmt.Sprintf("Work on request #%d is paused", event.RequestID)
	case domain.TriggerResume:
		return fmt.Sprintf("Work on request #%d resumed", event.RequestID)
	case domain.TriggerResolve:
		spent := time.Duration(event.ElapsedSeconds) * time.Second
		return fmt.Sprintf("Request #%d was resolved after %s of work", event.RequestID, spent)
	case domain.TriggerCancel:
		return fmt.Sprintf("Request #%d was cancelled", event.RequestID)
	case domain.TriggerTransfer:
		if event.AssigneeRef != nil {
			return fmt.Sprintf("Request #%d was transferred to agent %d", event.RequestID, *event.AssigneeRef)
		}
	}
	return fmt.Sprintf("Request #%d changed to %s", event.RequestID, event.To)
}

func (n *NotificationService) sendEmailNotificationStub(ctx context.Context, event domain.LifecycleEvent, message string) {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" {
		return
	}
	n.logger.Debug("sendEmailNotificationStub",
		zap.String("from", n.cfg.EmailFrom),
		zap.Int64("request_id", event.RequestID),
		zap.String("message", message))
}

func (n *NotificationService) sendWebhookNotificationStub(ctx context.Context, event domain.LifecycleEvent) {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return
	}
	n.logger.Debug("sendWebhookNotificationStub",
		zap.String("url", n.cfg.WebhookURL),
		zap.Int64("request_id", event.RequestID),
		zap.String("trigger", string(event.Trigger)))
}
