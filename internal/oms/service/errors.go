package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidTransition         = errors.New("transición de estado no permitida")
	ErrIncompleteChecklist       = errors.New("la lista de empaque está incompleta")
	ErrAmountMismatch            = errors.New("el monto declarado no coincide con lo recaudado")
	ErrAmountImbalance           = errors.New("los montos asignados no cuadran con la consignación")
	ErrOrderNotAssignedToCourier = errors.New("el pedido no está asignado a este mensajero")
	ErrAlreadyDelivered          = errors.New("el pedido ya fue entregado")
	ErrExternalSync              = errors.New("error temporal sincronizando con SIIGO")
	ErrExternalSyncPermanent     = errors.New("error permanente sincronizando con SIIGO")
	ErrEvidenceRequired          = errors.New("se requiere evidencia adjunta")
	ErrDeclarationLocked         = errors.New("la declaración ya fue aceptada y no puede modificarse")
	ErrAlreadyClosed             = errors.New("el pedido ya está cerrado en SIIGO")
	ErrDuplicateDeposit          = errors.New("ya existe una consignación idéntica registrada hace menos de 2 minutos")
	ErrItemsFrozen               = errors.New("los productos del pedido ya no pueden modificarse")
	ErrPackagingLocked           = errors.New("el pedido está siendo empacado por otro usuario")
	ErrForbidden                 = errors.New("acción no permitida para su rol")
	ErrValidation                = errors.New("datos inválidos")
	ErrMovementImmutable         = errors.New("el movimiento ya fue decidido")
	ErrNothingToWriteBack        = errors.New("el pedido no tiene un cierre pendiente de reenviar")
)

// TransitionError carries the attempted edge.
type TransitionError struct {
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("no se permite pasar de %s a %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("no se permite pasar de %s a %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// MissingItem is one checklist line below its required count.
type MissingItem struct {
	ItemID   string `json:"item_id"`
	Product  string `json:"product"`
	Required int    `json:"required"`
	Scanned  int    `json:"scanned"`
}

// ChecklistError names every item that blocks completion.
type ChecklistError struct {
	Missing      []MissingItem
	NeedEvidence bool
}

func (e *ChecklistError) Error() string {
	parts := make([]string, 0, len(e.Missing)+1)
	for _, m := range e.Missing {
		parts = append(parts, fmt.Sprintf("%s (%d/%d)", m.Product, m.Scanned, m.Required))
	}
	if e.NeedEvidence {
		parts = append(parts, "falta foto de evidencia")
	}
	return "empaque incompleto: " + strings.Join(parts, ", ")
}

func (e *ChecklistError) Unwrap() error {
	return ErrIncompleteChecklist
}

// AmountError describes a reconciliation failure.
type AmountError struct {
	Kind      error
	Expected  decimal.Decimal
	Actual    decimal.Decimal
	Tolerance decimal.Decimal
}

func (e *AmountError) Error() string {
	diff := e.Actual.Sub(e.Expected).Abs()
	return fmt.Sprintf("%s: esperado %s, recibido %s, diferencia %s supera la tolerancia %s",
		e.Kind.Error(), FormatCOP(e.Expected), FormatCOP(e.Actual), FormatCOP(diff), FormatCOP(e.Tolerance))
}

func (e *AmountError) Unwrap() error {
	return e.Kind
}

// SyncError wraps a SIIGO failure with its retry classification.
type SyncError struct {
	ExternalID string
	Retryable  bool
	Err        error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("factura %s: %v", e.ExternalID, e.Err)
}

func (e *SyncError) Unwrap() []error {
	if e.Retryable {
		return []error{ErrExternalSync, e.Err}
	}
	return []error{ErrExternalSyncPermanent, e.Err}
}

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// withinTolerance reports |a-b| <= tol.
func withinTolerance(a, b, tol decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tol)
}
