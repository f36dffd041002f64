package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"

	"exscan/internal/diag"
	"exscan/pkg/contract"
)

// Export 依次编码结果并交给 Writer 持久化，返回已写入的工件 ID。
// prefix 非空时作为工件子路径；首个失败即返回，已写入的工件保留。
func Export(ctx context.Context, exps []contract.Exporter, w contract.Writer, prefix string, res contract.AnalysisResult, logger *diag.Logger) ([]contract.ArtifactID, error) {
	if w == nil {
		return nil, errors.New("pipeline: missing writer")
	}
	fid := res.RunID
	out := make([]contract.ArtifactID, 0, len(exps))
	for _, e := range exps {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		id := contract.ArtifactID(e.Name())
		if prefix != "" {
			id = contract.ArtifactID(path.Join(prefix, e.Name()))
		}
		timer := logger.StartWithKV("exporter", "export", fid, "", map[string]string{"artifact": string(id)})
		r, err := e.Export(ctx, res)
		if err != nil {
			logError(logger, "exporter", "export failed", err, fid, "")
			return out, fmt.Errorf("export %s: %w", e.Name(), err)
		}
		if err := w.Write(ctx, id, r); err != nil {
			logError(logger, "writer", "write failed", err, fid, "")
			return out, fmt.Errorf("write %s: %w", id, err)
		}
		timer.Finish("export", int64(len(res.Records)))
		diag.IncOp("writer", "finish", "success")
		out = append(out, id)
	}
	return out, nil
}
