package auth

import (
	"errors"
	"fmt"
)

// ForbiddenError indicates the actor does not own the resource.
type ForbiddenError struct {
	Resource string
	ID       string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("not allowed to access %s %s", e.Resource, e.ID)
}

// ErrNoActor is returned when a call carries no acting user.
var ErrNoActor = errors.New("actor_id required")

// RequireOwner allows only the owner of a resource to act on it.
func RequireOwner(actorID, ownerID, resource, id string) error {
	if actorID == "" {
		return ErrNoActor
	}
	if actorID != ownerID {
		return ForbiddenError{Resource: resource, ID: id}
	}
	return nil
}

// IsForbidden reports whether err is an ownership violation.
func IsForbidden(err error) bool {
	var fe ForbiddenError
	return errors.As(err, &fe)
}
