package contract

import (
	"context"
	"io"
)

// ArtifactID: 持久化工件标识（导出文件名或相对路径）。
type ArtifactID string

// Writer: 将导出结果以流式方式持久化到目标介质（文件系统/对象存储等）。
// 约束：
//  1. 同一 ArtifactID 单写者；
//  2. 流式写入，按字节透传，不读取/修改业务内容；
//  3. ctx 取消/超时需尽快返回；
//  4. 错误直接上抛（不做重试/回退）。
type Writer interface {
	Write(ctx context.Context, id ArtifactID, r io.Reader) error
}
