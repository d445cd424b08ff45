package model

import "time"

// Session は認証プロバイダーが発行したログインセッションを表す。
// このサービスはセッションを参照するのみで、発行は行わない。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
