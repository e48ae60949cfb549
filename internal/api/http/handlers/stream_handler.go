package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/request-engine/internal/auth"
	"github.com/spec-kit/request-engine/internal/events"
	"github.com/spec-kit/request-engine/internal/service"
	apperrors "github.com/spec-kit/request-engine/pkg/errorutil"
)

// CodeResyncRequired tells a stream client to reload snapshots before
// subscribing again.
const CodeResyncRequired = "RESYNC_REQUIRED"

// StreamHandler pushes lifecycle events to connected collaborators as
// server-sent events.
type StreamHandler struct {
	bus       *events.Bus
	ledger    *service.Ledger
	keepAlive time.Duration
	logger    *zap.Logger
}

// NewStreamHandler constructs handler.
func NewStreamHandler(bus *events.Bus, ledger *service.Ledger, keepAlive time.Duration, logger *zap.Logger) *StreamHandler {
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{bus: bus, ledger: ledger, keepAlive: keepAlive, logger: logger}
}

// Stream GET /api/v1/stream?rooms=<room,...>&resume=<position>.
func (h *StreamHandler) Stream(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	rooms, err := h.rooms(c, principal)
	if err != nil {
		return err
	}
	resume, err := resumePosition(c)
	if err != nil {
		return err
	}

	sub, err := h.bus.Subscribe(events.NewFilter(rooms...), resume)
	if err != nil {
		if errors.Is(err, events.ErrResyncRequired) {
			return apperrors.NewDomainError(CodeResyncRequired, err.Error(), http.StatusConflict, map[string]any{
				"head": uint64(h.bus.Head()),
			})
		}
		return apperrors.NewDomainError(apperrors.CodeBusy, err.Error(), http.StatusServiceUnavailable, nil)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	logger := h.logger.With(zap.String("subscription", sub.ID()), zap.Int64("actor_ref", principal.ActorRef))
	keepAlive := h.keepAlive
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer sub.Close()
		logger.Debug("stream opened")
		reason := pump(context.Background(), sub, w, keepAlive)
		logger.Debug("stream closed", zap.Error(reason))
	})
	return nil
}

// pump writes envelopes until the subscription ends or the client goes away.
func pump(ctx context.Context, sub *events.Subscription, w *bufio.Writer, keepAlive time.Duration) error {
	if err := writeComment(w, "connected"); err != nil {
		return err
	}
	for {
		waitCtx, cancel := context.WithTimeout(ctx, keepAlive)
		env, err := sub.Next(waitCtx)
		cancel()
		switch {
		case err == nil:
			if err := writeEnvelope(w, env); err != nil {
				return err
			}
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			if err := writeComment(w, "keep-alive"); err != nil {
				return err
			}
		case errors.Is(err, events.ErrSubscriberLagged):
			_ = writeFrame(w, "resync", "", map[string]any{
				"code":     CodeResyncRequired,
				"position": uint64(sub.Position()),
			})
			return err
		default:
			return err
		}
	}
}

func writeEnvelope(w *bufio.Writer, env events.Envelope) error {
	return writeFrame(w, "lifecycle", strconv.FormatUint(uint64(env.Position), 10), env)
}

func writeFrame(w *bufio.Writer, event, id string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if id != "" {
		fmt.Fprintf(w, "id: %s\n", id)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return w.Flush()
}

func writeComment(w *bufio.Writer, text string) error {
	fmt.Fprintf(w, ": %s\n\n", text)
	return w.Flush()
}

// rooms resolves the requested rooms and checks the principal may join them.
// Without a rooms parameter clients follow their own requests, agents follow
// their assignments and admins follow everything.
func (h *StreamHandler) rooms(c *fiber.Ctx, principal *auth.Principal) ([]events.Room, error) {
	raw := strings.TrimSpace(c.Query("rooms"))
	if raw == "" {
		switch {
		case principal.IsAdmin():
			return []events.Room{events.AllRooms}, nil
		case principal.Role == auth.RoleClient && principal.ClientRef != nil:
			return []events.Room{events.ClientRoom(*principal.ClientRef)}, nil
		default:
			return []events.Room{events.AssigneeRoom(principal.ActorRef)}, nil
		}
	}

	var rooms []events.Room
	for _, part := range strings.Split(raw, ",") {
		room, err := events.ParseRoom(part)
		if err != nil {
			return nil, apperrors.NewValidationError(err.Error(), nil)
		}
		if err := h.authorizeRoom(c.UserContext(), principal, room); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

func (h *StreamHandler) authorizeRoom(ctx context.Context, principal *auth.Principal, room events.Room) error {
	if principal.Role != auth.RoleClient {
		return nil
	}
	kind, rawID, _ := strings.Cut(string(room), ":")
	id, _ := strconv.ParseInt(rawID, 10, 64)
	switch kind {
	case "client":
		if principal.OwnsClient(id) {
			return nil
		}
	case "request":
		req, err := h.ledger.Get(ctx, id)
		if err != nil {
			return err
		}
		if principal.CanView(req) {
			return nil
		}
	}
	return apperrors.NewForbidden(fmt.Sprintf("cannot join room %s", room))
}

// resumePosition reads the resume query parameter, falling back to the
// Last-Event-ID header sent by reconnecting EventSource clients.
func resumePosition(c *fiber.Ctx) (events.Position, error) {
	raw := strings.TrimSpace(c.Query("resume"))
	if raw == "" {
		raw = strings.TrimSpace(c.Get("Last-Event-ID"))
	}
	if raw == "" {
		return 0, nil
	}
	pos, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, apperrors.NewValidationError("resume must be a stream position", nil)
	}
	return events.Position(pos), nil
}
