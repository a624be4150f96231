package auth

import (
	"context"

	"glgapp.org/internal/obs"
)

// Authorizer combines token verification with the ownership gate.
type Authorizer struct {
	verifier Verifier
	owners   OwnershipChecker
}

func NewAuthorizer(v Verifier, owners OwnershipChecker) *Authorizer {
	return &Authorizer{verifier: v, owners: owners}
}

// Authorize verifies token and, when requireOwnership is set, confirms the
// verified subject owns contactID. Lookup failures fail closed.
func (a *Authorizer) Authorize(ctx context.Context, token string, contactID int64, requireOwnership bool) (Identity, error) {
	if a == nil || a.verifier == nil {
		return Identity{}, ErrInvalidToken
	}
	id, err := a.verifier.Verify(ctx, token)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	if !requireOwnership {
		return id, nil
	}
	if a.owners == nil || contactID <= 0 {
		return Identity{}, ErrNotOwner
	}
	owned, err := a.owners.Owns(ctx, id.Subject, contactID)
	if err != nil {
		obs.Warn("ownership lookup failed", map[string]any{
			"subject": id.Subject,
			"error":   err,
		})
		return Identity{}, ErrNotOwner
	}
	if !owned {
		return Identity{}, ErrNotOwner
	}
	return id, nil
}
