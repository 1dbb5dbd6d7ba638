package domain

import (
	"errors"
	"fmt"
)

// ErrorKind классифицирует доменные ошибки для транспортного слоя.
type ErrorKind string

const (
	KindUnauthenticated   ErrorKind = "unauthenticated"
	KindNotFound          ErrorKind = "not_found"
	KindPermissionDenied  ErrorKind = "permission_denied"
	KindInvalidInput      ErrorKind = "invalid_input"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindConflict          ErrorKind = "conflict"
	KindUnexpected        ErrorKind = "unexpected"
)

// Error: доменная ошибка с видом из таксономии и человекочитаемым сообщением.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error

	generic bool
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is сравнивает с обобщёнными ошибками по виду, с конкретными: по идентичности.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.generic {
		return t.Kind == e.Kind
	}
	return t == e
}

func kindSentinel(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg, generic: true}
}

// Обобщённые ошибки: errors.Is(err, ErrNotFound) истинно для любой ошибки вида NotFound.
var (
	ErrUnauthenticated   = kindSentinel(KindUnauthenticated, "authentication required")
	ErrNotFound          = kindSentinel(KindNotFound, "not found")
	ErrPermissionDenied  = kindSentinel(KindPermissionDenied, "permission denied")
	ErrInvalidInput      = kindSentinel(KindInvalidInput, "invalid input")
	ErrInvalidTransition = kindSentinel(KindInvalidTransition, "invalid state transition")
	ErrConflict          = kindSentinel(KindConflict, "conflict")
)

var (
	// ErrEstablishmentNotFound возвращается, если заведение не найдено.
	ErrEstablishmentNotFound = &Error{Kind: KindNotFound, Message: "establishment not found"}
	// ErrProductNotFound возвращается, если продукт не найден.
	ErrProductNotFound = &Error{Kind: KindNotFound, Message: "product not found"}
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = &Error{Kind: KindNotFound, Message: "order not found"}

	ErrOwnerRequired           = &Error{Kind: KindInvalidInput, Message: "owner_id is required"}
	ErrNameRequired            = &Error{Kind: KindInvalidInput, Message: "name is required"}
	ErrEstablishmentIDRequired = &Error{Kind: KindInvalidInput, Message: "establishment_id is required"}
	ErrPriceRequired           = &Error{Kind: KindInvalidInput, Message: "price is required"}
	ErrPriceNegative           = &Error{Kind: KindInvalidInput, Message: "price must be non-negative"}
	ErrCustomerRequired        = &Error{Kind: KindInvalidInput, Message: "customer_id is required"}
	ErrItemsRequired           = &Error{Kind: KindInvalidInput, Message: "order must contain at least one item"}
	ErrItemQtyInvalid          = &Error{Kind: KindInvalidInput, Message: "item quantity must be greater than zero"}
	ErrItemPriceInvalid        = &Error{Kind: KindInvalidInput, Message: "item price must be non-negative"}
	ErrAmountNegative          = &Error{Kind: KindInvalidInput, Message: "total must be non-negative"}
	ErrAmountMismatch          = &Error{Kind: KindInvalidInput, Message: "order total does not match items sum"}
	ErrAmountOverflow          = &Error{Kind: KindInvalidInput, Message: "order total is too large"}
	// ErrInvalidOrderItem: продукт отсутствует или принадлежит другому заведению.
	ErrInvalidOrderItem = &Error{Kind: KindInvalidInput, Message: "order item is not valid for this establishment"}

	// ErrOrderNotCancellable: отменить можно только заказ в статусе PENDING.
	ErrOrderNotCancellable = &Error{Kind: KindInvalidTransition, Message: "only pending orders can be cancelled"}

	// ErrIdempotencyInFlight: запрос с тем же ключом ещё обрабатывается.
	ErrIdempotencyInFlight = &Error{Kind: KindConflict, Message: "request with this idempotency key is still in progress"}
	// ErrIdempotencyHashMismatch: ключ уже использован с другим телом запроса.
	ErrIdempotencyHashMismatch = &Error{Kind: KindConflict, Message: "idempotency key is already used with a different request payload"}
	// ErrIdempotencyHashRequired: хранилище не принимает ключ без отпечатка запроса.
	ErrIdempotencyHashRequired = &Error{Kind: KindInvalidInput, Message: "idempotency request hash is required"}
)

// NewError создаёт доменную ошибку заданного вида, опционально оборачивая причину.
func NewError(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf возвращает вид ошибки; всё, что не классифицировано, считается Unexpected.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnexpected
}

// InvalidInput собирает ошибки валидации в одну ошибку вида InvalidInput.
func InvalidInput(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	msg := ""
	for i, err := range errs {
		if i > 0 {
			msg += "; "
		}
		msg += err.Error()
	}
	return &Error{Kind: KindInvalidInput, Message: msg, Err: errors.Join(errs...)}
}
