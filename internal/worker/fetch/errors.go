package fetch

import (
	"errors"
	"fmt"
)

var (
	// ErrUnexpectedStatus は2xx以外のHTTPステータスが返されたことを示す。
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
	// ErrBodyTooLarge はレスポンスボディが上限を超えたことを示す。
	ErrBodyTooLarge = errors.New("response body too large")
)

// FetchError は1つのフィードソースの取得失敗を表す。
// ステータスコードはレスポンスを受け取れた場合のみ設定される。
type FetchError struct {
	FeedID     string
	URL        string
	StatusCode int
	Err        error
}

// Error はジョブの失敗メッセージとしてそのまま記録される。
func (e *FetchError) Error() string {
	if e.StatusCode != 0 && errors.Is(e.Err, ErrUnexpectedStatus) {
		return fmt.Sprintf("failed to fetch feed %s (%s): HTTP %d", e.FeedID, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("failed to fetch feed %s (%s): %v", e.FeedID, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
