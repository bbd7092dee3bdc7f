package handler

import (
	"net/http"
	"strings"

	"github.com/xenking/harvest-fulfillment/internal/domain/order"
)

// Identity headers are set by the upstream gateway after authentication.
const (
	headerActorID   = "X-Actor-ID"
	headerActorRole = "X-Actor-Role"
)

func actorFromRequest(r *http.Request) (order.Actor, error) {
	id := strings.TrimSpace(r.Header.Get(headerActorID))
	role := order.Role(strings.ToUpper(strings.TrimSpace(r.Header.Get(headerActorRole))))
	if id == "" || (role != order.RoleBuyer && role != order.RoleVendor) {
		return order.Actor{}, errUnauthenticated
	}
	return order.Actor{ID: id, Role: role}, nil
}
