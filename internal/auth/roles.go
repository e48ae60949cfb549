package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/request-engine/internal/domain"
	apperrors "github.com/spec-kit/request-engine/pkg/errorutil"
)

// RequireRole ensures the principal has one of the allowed roles.
func RequireRole(allowed ...Role) fiber.Handler {
	allowedSet := make(map[Role]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if _, exists := allowedSet[principal.Role]; !exists {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}

// IsAdmin reports whether the principal is an administrator.
func (p *Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// OwnsClient reports whether a client principal acts for clientRef.
func (p *Principal) OwnsClient(clientRef int64) bool {
	return p.ClientRef != nil && *p.ClientRef == clientRef
}

// Recipient is the feed key of the principal: the client feed for client
// users, the personal staff feed otherwise.
func (p *Principal) Recipient() domain.Recipient {
	if p.Role == RoleClient {
		if p.ClientRef == nil {
			return domain.Recipient("")
		}
		return domain.ClientRecipient(*p.ClientRef)
	}
	return domain.StaffRecipient(p.ActorRef)
}

// CanView reports whether the principal may read req.
func (p *Principal) CanView(req *domain.Request) bool {
	if p.Role == RoleClient {
		return p.OwnsClient(req.ClientRef)
	}
	return true
}

// Authorize checks whether the principal may fire trigger on req. The state
// machine still decides whether the trigger is legal.
func (p *Principal) Authorize(req *domain.Request, trigger domain.Trigger) error {
	if p.IsAdmin() {
		return nil
	}
	assignee := req.AssigneeRef != nil && *req.AssigneeRef == p.ActorRef
	switch trigger {
	case domain.TriggerAccept:
		if p.Role == RoleAgent {
			return nil
		}
	case domain.TriggerPause, domain.TriggerResume, domain.TriggerResolve:
		if assignee {
			return nil
		}
	case domain.TriggerCancel:
		if assignee || req.CreatorRef == p.ActorRef || (p.Role == RoleClient && p.OwnsClient(req.ClientRef)) {
			return nil
		}
	}
	return apperrors.NewForbidden("not allowed to " + string(trigger) + " this request")
}
