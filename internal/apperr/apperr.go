package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 错误分类，在请求边界统一翻译成 HTTP 状态码
type Kind int

const (
	KindValidation       Kind = iota // 请求参数不合法
	KindImageDecode                  // 上传的图片无法解码
	KindConfiguration                // 凭证缺失或格式错误
	KindGenerationFailed             // 远端生成失败（含降级后仍失败）
	KindStorage                      // 本地读写失败
	KindNotFound                     // 模板或文件不存在
)

// Error 携带分类的业务错误
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf 提取错误分类，无法识别时按生成失败处理
func KindOf(err error) (Kind, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind, true
	}
	return KindGenerationFailed, false
}

// HTTPStatus 分类到 HTTP 状态码的固定映射
func HTTPStatus(err error) int {
	kind, ok := KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case KindValidation, KindImageDecode:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
