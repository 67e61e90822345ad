package service

import "errors"

// Kind 是业务错误的分类，handler 据此映射 HTTP 状态码。
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuth
	KindAccessDenied
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindAccessDenied:
		return "access_denied"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error 携带可以安全返回给客户端的消息。
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// 业务层通用错误。
var (
	ErrHandleTaken        = &Error{Kind: KindConflict, Msg: "handle taken"}
	ErrEmailTaken         = &Error{Kind: KindConflict, Msg: "email taken"}
	ErrInvalidCredentials = &Error{Kind: KindAuth, Msg: "invalid credentials"}
	ErrUnauthorized       = &Error{Kind: KindAuth, Msg: "unauthorized"}
	ErrRoomNotFound       = &Error{Kind: KindNotFound, Msg: "room not found"}
	ErrUserNotFound       = &Error{Kind: KindNotFound, Msg: "user not found"}
	ErrForbidden          = &Error{Kind: KindAccessDenied, Msg: "no access to this room"}
)

func Validation(msg string) error {
	return &Error{Kind: KindValidation, Msg: msg}
}

// KindOf 返回错误分类，非 *Error 一律视为内部错误。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
