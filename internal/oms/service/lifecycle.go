package service

import (
	e "github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/entity"
)

// Roles
const (
	RoleAdmin     = "admin"
	RoleBilling   = "facturador"
	RoleCredit    = "cartera"
	RoleLogistics = "logistica"
	RoleCourier   = "mensajero"
	RolePacker    = "empacador"
)

// KnownRoles is the set a caller must draw from to mutate anything.
var KnownRoles = []string{RoleAdmin, RoleBilling, RoleCredit, RoleLogistics, RoleCourier, RolePacker}

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID    string
	Name  string
	Roles []string
}

// HasRole reports whether the actor carries any of roles.
func (a Actor) HasRole(roles ...string) bool {
	for _, have := range a.Roles {
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// IsAdmin is shorthand for HasRole(RoleAdmin).
func (a Actor) IsAdmin() bool {
	return a.HasRole(RoleAdmin)
}

// PrimaryRole picks the role recorded in history rows.
func (a Actor) PrimaryRole() string {
	if a.IsAdmin() {
		return RoleAdmin
	}
	for _, r := range a.Roles {
		for _, k := range KnownRoles {
			if r == k {
				return r
			}
		}
	}
	return ""
}

type edge struct {
	from, to string
}

// transitionRoles is the single capability table: every allowed edge and the
// roles that may take it. Cancellation edges are added in init.
var transitionRoles = map[edge][]string{
	{e.StatusPendingBilling, e.StatusCreditReview}:      {RoleBilling, RoleAdmin},
	{e.StatusCreditReview, e.StatusLogistics}:           {RoleCredit, RoleAdmin},
	{e.StatusCreditReview, e.StatusPendingBilling}:      {RoleCredit, RoleAdmin},
	{e.StatusLogistics, e.StatusPendingPackaging}:       {RoleLogistics, RoleAdmin},
	{e.StatusPendingPackaging, e.StatusPackaging}:       {RolePacker, RoleLogistics, RoleAdmin},
	{e.StatusPackaging, e.StatusReadyForDelivery}:       {RolePacker, RoleAdmin},
	{e.StatusReadyForDelivery, e.StatusPackaging}:       {RolePacker, RoleLogistics, RoleAdmin},
	{e.StatusReadyForDelivery, e.StatusOutForDelivery}:  {RoleLogistics, RoleCourier, RoleAdmin},
	{e.StatusReadyForDelivery, e.StatusHandedToCarrier}: {RoleLogistics, RoleAdmin},
	{e.StatusOutForDelivery, e.StatusDelivered}:         {RoleCourier, RoleLogistics, RoleCredit, RoleAdmin},
	{e.StatusHandedToCarrier, e.StatusDelivered}:        {RoleLogistics, RoleAdmin},
}

// deliveryOnly edges carry money and are taken only by CompleteDelivery,
// which records the collection in the same transaction.
var deliveryOnly = map[edge]bool{
	{e.StatusOutForDelivery, e.StatusDelivered}: true,
}

var cancelRoles = []string{RoleAdmin, RoleBilling, RoleCredit, RoleLogistics}

var terminal = map[string]bool{
	e.StatusDelivered: true,
	e.StatusCancelled: true,
}

// rank orders the pipeline so "at or after logistics" and "before delivery"
// checks are simple comparisons.
var rank = map[string]int{
	e.StatusPendingBilling:   0,
	e.StatusCreditReview:     1,
	e.StatusLogistics:        2,
	e.StatusPendingPackaging: 3,
	e.StatusPackaging:        4,
	e.StatusReadyForDelivery: 5,
	e.StatusOutForDelivery:   6,
	e.StatusHandedToCarrier:  6,
	e.StatusDelivered:        7,
}

func init() {
	for _, s := range e.AllStatuses {
		if !terminal[s] {
			transitionRoles[edge{s, e.StatusCancelled}] = cancelRoles
		}
	}
}

// IsValidStatus reports whether s belongs to the status set.
func IsValidStatus(s string) bool {
	for _, v := range e.AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no edge leaves s.
func IsTerminal(s string) bool {
	return terminal[s]
}

// IsEdge reports whether from -> to is in the graph, regardless of role.
func IsEdge(from, to string) bool {
	_, ok := transitionRoles[edge{from, to}]
	return ok
}

// CanTransition checks the graph and the actor's capability for one edge.
func CanTransition(from, to string, actor Actor) error {
	if !IsValidStatus(to) {
		return &TransitionError{From: from, To: to, Reason: "estado desconocido"}
	}
	if IsTerminal(from) {
		return &TransitionError{From: from, To: to, Reason: "el pedido está en un estado final"}
	}
	roles, ok := transitionRoles[edge{from, to}]
	if !ok {
		return &TransitionError{From: from, To: to}
	}
	if !actor.HasRole(roles...) {
		return &TransitionError{From: from, To: to, Reason: "su rol no tiene permiso para esta acción"}
	}
	if deliveryOnly[edge{from, to}] {
		return &TransitionError{From: from, To: to, Reason: "la entrega se registra con el recaudo del mensajero"}
	}
	return nil
}

// NextStatuses lists the targets the actor may move an order to from s.
func NextStatuses(from string, actor Actor) []string {
	var out []string
	for _, to := range e.AllStatuses {
		if CanTransition(from, to, actor) == nil {
			out = append(out, to)
		}
	}
	return out
}

// cancelNeedsReason reports whether cancelling from s requires a reason and
// a logistics acknowledgement.
func cancelNeedsReason(from string) bool {
	r, ok := rank[from]
	return ok && r >= rank[e.StatusLogistics]
}

// isBackward reports whether to sits earlier in the pipeline than from.
// A SIIGO-closed order may only move forward.
func isBackward(from, to string) bool {
	rf, okFrom := rank[from]
	rt, okTo := rank[to]
	return okFrom && okTo && rt < rf
}

// ValidWalk checks that consecutive statuses form allowed edges.
func ValidWalk(statuses []string) bool {
	for i := 1; i < len(statuses); i++ {
		if !IsEdge(statuses[i-1], statuses[i]) {
			return false
		}
	}
	return true
}
