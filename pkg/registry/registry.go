package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"

	"exscan/pkg/contract"
	bfixed "exscan/plugins/batcher/fixed"
	ecsv "exscan/plugins/exporter/csv"
	enarr "exscan/plugins/exporter/narrative"
	exlsx "exscan/plugins/exporter/xlsx"
	xej "exscan/plugins/extractor/ejercicio"
	ant "exscan/plugins/llmclient/anthropic"
	flaky "exscan/plugins/llmclient/flaky"
	gmi "exscan/plugins/llmclient/gemini"
	mock "exscan/plugins/llmclient/mock"
	oai "exscan/plugins/llmclient/openai"
	lauto "exscan/plugins/loader/auto"
	lpdf "exscan/plugins/loader/pdf"
	ltext "exscan/plugins/loader/text"
	pstd "exscan/plugins/prompt/standard"
	smarker "exscan/plugins/segmenter/marker"
	safs "exscan/plugins/snapshot/afs"
	smem "exscan/plugins/snapshot/memory"
	sredis "exscan/plugins/snapshot/redis"
	ssqlite "exscan/plugins/snapshot/sqlite"
	wafs "exscan/plugins/writer/afs"
	wfs "exscan/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewLoader 工厂签名：接收原样 JSON Options。
type NewLoader func(raw json.RawMessage) (contract.Loader, error)

// NewSegmenter 工厂签名：接收原样 JSON Options。
type NewSegmenter func(raw json.RawMessage) (contract.Segmenter, error)

// NewBatcher 工厂签名：接收原样 JSON Options。
type NewBatcher func(raw json.RawMessage) (contract.Batcher, error)

// NewPromptBuilder 工厂签名：接收原样 JSON Options。
type NewPromptBuilder func(raw json.RawMessage) (contract.PromptBuilder, error)

// NewLLMClient 工厂签名：接收原样 JSON Options。
type NewLLMClient func(raw json.RawMessage) (contract.LLMClient, error)

// NewExtractor 工厂签名：接收原样 JSON Options。
type NewExtractor func(raw json.RawMessage) (contract.Extractor, error)

// NewExporter 工厂签名：接收原样 JSON Options。
type NewExporter func(raw json.RawMessage) (contract.Exporter, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// NewSnapshot 工厂签名：远端后端在构造期建立连接，因此接收 ctx。
// 返回值若实现 io.Closer，调用方负责关闭。
type NewSnapshot func(ctx context.Context, raw json.RawMessage) (contract.SnapshotBackend, error)

// Loader 工厂注册表（显式、零反射）。
var Loader = map[string]NewLoader{
	// auto: 按 "%PDF-" 魔数分派到 pdf/text
	"auto": func(raw json.RawMessage) (contract.Loader, error) {
		var opts lauto.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return lauto.New(&opts), nil
	},
	"text": func(raw json.RawMessage) (contract.Loader, error) {
		var opts ltext.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return ltext.New(&opts), nil
	},
	"pdf": func(raw json.RawMessage) (contract.Loader, error) {
		var opts lpdf.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return lpdf.New(&opts), nil
	},
}

// Segmenter 工厂注册表。
var Segmenter = map[string]NewSegmenter{
	// marker: "[Página N]" 标记拆分
	"marker": func(raw json.RawMessage) (contract.Segmenter, error) {
		var opts smarker.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return smarker.New(&opts), nil
	},
}

// Batcher 工厂注册表。
var Batcher = map[string]NewBatcher{
	// fixed: 按页数定长切分（可选 token 上限提前收批）
	"fixed": func(raw json.RawMessage) (contract.Batcher, error) {
		var opts bfixed.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return bfixed.New(&opts), nil
	},
}

// PromptBuilder 工厂注册表。
var PromptBuilder = map[string]NewPromptBuilder{
	// standard: 按教学标准检索练习（西语指令，system+user）
	"standard": func(raw json.RawMessage) (contract.PromptBuilder, error) {
		var opts pstd.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return pstd.New(&opts)
	},
}

// LLMClient 工厂注册表。
var LLMClient = map[string]NewLLMClient{
	"anthropic": func(raw json.RawMessage) (contract.LLMClient, error) { return ant.New(raw) },
	"openai":    func(raw json.RawMessage) (contract.LLMClient, error) { return oai.New(raw) },
	"gemini":    func(raw json.RawMessage) (contract.LLMClient, error) { return gmi.New(raw) },
	"mock":      func(raw json.RawMessage) (contract.LLMClient, error) { return mock.New(raw) },
	"flaky":     func(raw json.RawMessage) (contract.LLMClient, error) { return flaky.New(raw) },
}

// Extractor 工厂注册表。
var Extractor = map[string]NewExtractor{
	// ejercicio: "Ejercicio N (Página P) [Idoneidad: S]: ..." 文法
	"ejercicio": func(raw json.RawMessage) (contract.Extractor, error) { return xej.New(raw) },
}

// Exporter 工厂注册表。
var Exporter = map[string]NewExporter{
	"csv":       func(raw json.RawMessage) (contract.Exporter, error) { return ecsv.New(raw) },
	"xlsx":      func(raw json.RawMessage) (contract.Exporter, error) { return exlsx.New(raw) },
	"narrative": func(raw json.RawMessage) (contract.Exporter, error) { return enarr.New(raw) },
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（覆盖写/原子替换可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
	// afs: 任意 viant/afs URL（file://、mem://、s3:// 等按已注册的 scheme）
	"afs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wafs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wafs.New(&opts)
	},
}

// Snapshot 工厂注册表。
var Snapshot = map[string]NewSnapshot{
	"memory": func(_ context.Context, raw json.RawMessage) (contract.SnapshotBackend, error) {
		var opts struct{}
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return smem.New(), nil
	},
	"redis": func(_ context.Context, raw json.RawMessage) (contract.SnapshotBackend, error) {
		var opts sredis.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return sredis.New(&opts)
	},
	"sqlite": func(ctx context.Context, raw json.RawMessage) (contract.SnapshotBackend, error) {
		var opts ssqlite.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return ssqlite.Open(ctx, &opts)
	},
	"afs": func(_ context.Context, raw json.RawMessage) (contract.SnapshotBackend, error) {
		var opts safs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return safs.New(&opts)
	},
}

// Names 返回注册表键的有序列表（用于帮助信息与错误提示）。
func Names[F any](m map[string]F) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
