package service

import (
	"errors"
	"testing"

	e "github.com/jecaicedo27/toppingfrozen-sub006/internal/oms/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func actorWith(roles ...string) Actor {
	return Actor{ID: "u-1", Name: "Usuario", Roles: roles}
}

func TestCanTransition_HappyPathByRole(t *testing.T) {
	steps := []struct {
		from, to string
		role     string
	}{
		{e.StatusPendingBilling, e.StatusCreditReview, RoleBilling},
		{e.StatusCreditReview, e.StatusLogistics, RoleCredit},
		{e.StatusLogistics, e.StatusPendingPackaging, RoleLogistics},
		{e.StatusPendingPackaging, e.StatusPackaging, RolePacker},
		{e.StatusPackaging, e.StatusReadyForDelivery, RolePacker},
		{e.StatusReadyForDelivery, e.StatusOutForDelivery, RoleCourier},
		{e.StatusReadyForDelivery, e.StatusHandedToCarrier, RoleLogistics},
		{e.StatusHandedToCarrier, e.StatusDelivered, RoleLogistics},
	}
	for _, s := range steps {
		t.Run(s.from+"->"+s.to, func(t *testing.T) {
			assert.NoError(t, CanTransition(s.from, s.to, actorWith(s.role)))
			assert.NoError(t, CanTransition(s.from, s.to, actorWith(RoleAdmin)))
		})
	}
}

func TestCanTransition_WrongRole(t *testing.T) {
	err := CanTransition(e.StatusPendingBilling, e.StatusCreditReview, actorWith(RoleCourier))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, e.StatusPendingBilling, te.From)
	assert.Equal(t, e.StatusCreditReview, te.To)
	assert.NotEmpty(t, te.Reason)
}

func TestCanTransition_SkippingStagesIsRejected(t *testing.T) {
	err := CanTransition(e.StatusPendingBilling, e.StatusDelivered, actorWith(RoleAdmin))
	assert.ErrorIs(t, err, ErrInvalidTransition)

	err = CanTransition(e.StatusLogistics, e.StatusReadyForDelivery, actorWith(RoleAdmin))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCanTransition_TerminalStates(t *testing.T) {
	for _, from := range []string{e.StatusDelivered, e.StatusCancelled} {
		for _, to := range e.AllStatuses {
			assert.ErrorIs(t, CanTransition(from, to, actorWith(RoleAdmin)), ErrInvalidTransition, "%s -> %s", from, to)
		}
		assert.True(t, IsTerminal(from))
	}
}

func TestCanTransition_UnknownTarget(t *testing.T) {
	err := CanTransition(e.StatusPendingBilling, "archivado", actorWith(RoleAdmin))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancellationEdges(t *testing.T) {
	for _, s := range e.AllStatuses {
		if IsTerminal(s) {
			continue
		}
		assert.True(t, IsEdge(s, e.StatusCancelled), s)
		assert.NoError(t, CanTransition(s, e.StatusCancelled, actorWith(RoleLogistics)))
		assert.Error(t, CanTransition(s, e.StatusCancelled, actorWith(RoleCourier)))
		assert.Error(t, CanTransition(s, e.StatusCancelled, actorWith(RolePacker)))
	}
}

func TestCancelNeedsReason(t *testing.T) {
	assert.False(t, cancelNeedsReason(e.StatusPendingBilling))
	assert.False(t, cancelNeedsReason(e.StatusCreditReview))
	assert.True(t, cancelNeedsReason(e.StatusLogistics))
	assert.True(t, cancelNeedsReason(e.StatusPackaging))
	assert.True(t, cancelNeedsReason(e.StatusOutForDelivery))
}

func TestIsBackward(t *testing.T) {
	assert.True(t, isBackward(e.StatusReadyForDelivery, e.StatusPackaging))
	assert.True(t, isBackward(e.StatusCreditReview, e.StatusPendingBilling))
	assert.False(t, isBackward(e.StatusLogistics, e.StatusPendingPackaging))
	assert.False(t, isBackward(e.StatusReadyForDelivery, e.StatusHandedToCarrier))
	assert.False(t, isBackward(e.StatusLogistics, e.StatusCancelled))
}

func TestCanTransition_DeliveryNeedsCollection(t *testing.T) {
	for _, role := range []string{RoleCourier, RoleLogistics, RoleCredit, RoleAdmin} {
		err := CanTransition(e.StatusOutForDelivery, e.StatusDelivered, actorWith(role))
		assert.ErrorIs(t, err, ErrInvalidTransition, role)
	}
	assert.True(t, IsEdge(e.StatusOutForDelivery, e.StatusDelivered))
	assert.NotContains(t, NextStatuses(e.StatusOutForDelivery, actorWith(RoleAdmin)), e.StatusDelivered)
	assert.NoError(t, CanTransition(e.StatusHandedToCarrier, e.StatusDelivered, actorWith(RoleLogistics)))
}

func TestNextStatuses(t *testing.T) {
	next := NextStatuses(e.StatusReadyForDelivery, actorWith(RoleLogistics))
	assert.ElementsMatch(t, []string{
		e.StatusPackaging,
		e.StatusOutForDelivery,
		e.StatusHandedToCarrier,
		e.StatusCancelled,
	}, next)

	assert.Empty(t, NextStatuses(e.StatusDelivered, actorWith(RoleAdmin)))
	assert.Equal(t, []string{e.StatusReadyForDelivery}, NextStatuses(e.StatusPackaging, actorWith(RolePacker)))
}

func TestValidWalk(t *testing.T) {
	assert.True(t, ValidWalk([]string{
		e.StatusPendingBilling, e.StatusCreditReview, e.StatusPendingBilling,
		e.StatusCreditReview, e.StatusLogistics, e.StatusPendingPackaging,
		e.StatusPackaging, e.StatusReadyForDelivery, e.StatusPackaging,
		e.StatusReadyForDelivery, e.StatusOutForDelivery, e.StatusDelivered,
	}))
	assert.False(t, ValidWalk([]string{e.StatusPendingBilling, e.StatusLogistics}))
	assert.True(t, ValidWalk(nil))
}

func TestActorRoles(t *testing.T) {
	a := actorWith("otro", RoleCredit)
	assert.True(t, a.HasRole(RoleCredit, RoleAdmin))
	assert.False(t, a.IsAdmin())
	assert.Equal(t, RoleCredit, a.PrimaryRole())

	admin := actorWith(RolePacker, RoleAdmin)
	assert.Equal(t, RoleAdmin, admin.PrimaryRole())
	assert.Equal(t, "", actorWith("desconocido").PrimaryRole())
}
