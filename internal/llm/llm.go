// Package llm defines the inference collaborator contract. A backend takes a
// serialized agent snapshot and returns a serialized decision proposal; any
// malformed, slow, or erroring response is a recoverable failure for the
// caller, never a fatal one.
package llm

import "context"

// Client 定义了调用推理后端的统一接口。
// 实现必须尊重 ctx 上的超时；返回的 JSON 不被信任，
// 由调用方解析并送入安全校验。
type Client interface {
	Infer(ctx context.Context, snapshotJSON []byte) (decisionJSON []byte, err error)
}
