package job

import "net/http"

// Outcome はガード対象の処理が返す結果。
// OK または Fail のいずれかで生成する。
type Outcome struct {
	ok         bool
	statusCode int
	message    string
}

// OK は成功結果を生成する。messageが空の場合は既定の完了メッセージが使われる。
func OK(message string) Outcome {
	return Outcome{ok: true, statusCode: http.StatusOK, message: message}
}

// Fail は失敗結果を生成する。statusCodeは呼び出し元に返すHTTPステータスの目安。
func Fail(statusCode int, message string) Outcome {
	return Outcome{ok: false, statusCode: statusCode, message: message}
}

// Succeeded は成功結果かどうかを返す。
func (o Outcome) Succeeded() bool {
	return o.ok
}

// StatusCode はHTTPステータスの目安を返す。
// ステータス未指定の失敗は500とする。
func (o Outcome) StatusCode() int {
	if o.statusCode == 0 {
		if o.ok {
			return http.StatusOK
		}
		return http.StatusInternalServerError
	}
	return o.statusCode
}

// Message は結果メッセージを返す。
func (o Outcome) Message() string {
	return o.message
}

func (o Outcome) withMessage(message string) Outcome {
	o.message = message
	return o
}
