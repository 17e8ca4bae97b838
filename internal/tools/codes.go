// Package tools exposes the assessment pipeline as string-in string-out
// tools for the conversational agent. Every tool validates its input,
// never returns a Go error, and reports failures as coded messages of the
// form "[<code>] <description>" so the model can relay them to the user.
package tools

import "fmt"

// ErrorCode identifies a tool failure class.
type ErrorCode string

const (
	CodeSuccess            ErrorCode = "0000"
	CodeInvalidInput       ErrorCode = "1001"
	CodeFileNotFound       ErrorCode = "1002"
	CodeInvalidFileFormat  ErrorCode = "1003"
	CodeFileSizeExceeded   ErrorCode = "1004"
	CodeToolExecutionError ErrorCode = "2001"
	CodeNetworkError       ErrorCode = "2002"
	CodeInternalError      ErrorCode = "9999"
)

var codeMessages = map[ErrorCode]string{
	CodeSuccess:            "操作成功",
	CodeInvalidInput:       "输入参数无效",
	CodeFileNotFound:       "文件不存在",
	CodeInvalidFileFormat:  "无效的文件格式",
	CodeFileSizeExceeded:   "文件大小超出限制",
	CodeToolExecutionError: "工具执行错误",
	CodeNetworkError:       "网络错误",
	CodeInternalError:      "内部错误",
}

// Message returns the standard Chinese description for the code.
func (c ErrorCode) Message() string {
	if msg, ok := codeMessages[c]; ok {
		return msg
	}
	return codeMessages[CodeInternalError]
}

// coded formats a tool response carrying an error (or success) code.
func coded(code ErrorCode, detail string) string {
	return fmt.Sprintf("[%s] %s", code, detail)
}
