package readermgr

import "errors"

var (
	// ErrUnknownSubscription 句柄不对应任何订阅
	ErrUnknownSubscription = errors.New("readermgr: unknown subscription")

	// ErrManagerClosed 管理器已关闭
	ErrManagerClosed = errors.New("readermgr: manager closed")
)
