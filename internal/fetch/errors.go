package fetch

import (
	"errors"
	"fmt"
)

// Kind 区分下载失败的类别，调用方据此决定如何上报与重试。
type Kind int

const (
	// KindValidationRejected 表示请求在安全校验阶段被拒绝，重试无意义。
	KindValidationRejected Kind = iota
	// KindTransientNetwork 表示网络或源站的临时故障，可稍后重试。
	KindTransientNetwork
	// KindCorruptEntry 表示落盘或校验阶段发现内容损坏。
	KindCorruptEntry
)

func (k Kind) String() string {
	switch k {
	case KindValidationRejected:
		return "validation_rejected"
	case KindTransientNetwork:
		return "transient_network"
	case KindCorruptEntry:
		return "corrupt_entry"
	default:
		return "unknown"
	}
}

// Error 携带失败类别与目标 URL 的下载错误。
type Error struct {
	Kind Kind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, url string, err error) *Error {
	return &Error{Kind: kind, URL: url, Err: err}
}

// IsValidationRejected 判断 err 是否为安全校验拒绝。
func IsValidationRejected(err error) bool {
	return hasKind(err, KindValidationRejected)
}

// IsTransientNetwork 判断 err 是否为可重试的临时故障。
func IsTransientNetwork(err error) bool {
	return hasKind(err, KindTransientNetwork)
}

func hasKind(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}
