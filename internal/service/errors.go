// Package service 包含了应用的业务逻辑层。
package service

import "errors"

// 业务层的哨兵错误。处理层根据它们映射 HTTP 状态码；
// 特别地，“未授权”必须与“不存在”可区分，前端才能展示
// 受保护行程的提示而不是笼统的 404。
var (
	ErrTripNotFound         = errors.New("trip not found")
	ErrTripUnauthorized     = errors.New("trip token mismatch")
	ErrTripNotDraft         = errors.New("trip is not a draft")
	ErrTripAlreadyPublished = errors.New("trip is already published")
	ErrNotTripOwner         = errors.New("not the trip owner")
	ErrBatchNotFound        = errors.New("upload batch not found")
	ErrNoFiles              = errors.New("no files in upload request")
)
