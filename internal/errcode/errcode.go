package errcode

import "errors"

// 错误约定：
// - 业务错误使用下列哨兵错误，处理层用 errors.Is 映射到 HTTP 状态码
// - 其余错误一律视为系统错误（500），需要中断流程
var (
	// ErrConflict 表示非法的状态迁移（重复投递、拒绝未投递的候选人等）。
	ErrConflict = errors.New("conflict")

	// ErrForbidden 表示操作者角色与操作不匹配。
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound 表示职位或候选人不存在。
	ErrNotFound = errors.New("not found")

	// ErrAuthentication 表示连接握手凭证缺失或非法。
	ErrAuthentication = errors.New("authentication failed")
)
