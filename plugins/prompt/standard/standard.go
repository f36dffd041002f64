package standard

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"

	"exscan/pkg/contract"
)

// Options 为“按教学标准检索练习” PromptBuilder 的最小配置。
// - InlineSystemTemplate / SystemTemplatePath: system 提示模板（二选一，均为空时使用内置默认模板）。
type Options struct {
	InlineSystemTemplate string `json:"inline_system_template"`
	SystemTemplatePath   string `json:"system_template_path"`
	// MinSuitability/MaxSuitability: 写入指令的分值区间；默认 1–5。
	MinSuitability int `json:"min_suitability"`
	MaxSuitability int `json:"max_suitability"`
}

// Builder: 以 Batch + 标准描述构造 ChatPrompt（system+user）。
// 运行期不做 I/O；模板在构造期解析。
type Builder struct {
	sys string
}

type templateData struct {
	Min, Max int
}

// New 创建标准检索 PromptBuilder。
func New(opts *Options) (*Builder, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.MinSuitability <= 0 {
		o.MinSuitability = 1
	}
	if o.MaxSuitability <= 0 {
		o.MaxSuitability = 5
	}
	if o.MinSuitability > o.MaxSuitability {
		return nil, fmt.Errorf("prompt: %w: min_suitability > max_suitability", contract.ErrInvalidConfig)
	}

	src := defaultSystemTemplate
	if o.InlineSystemTemplate != "" {
		src = o.InlineSystemTemplate
	} else if o.SystemTemplatePath != "" {
		b, err := os.ReadFile(o.SystemTemplatePath)
		if err != nil {
			return nil, fmt.Errorf("system template read: %w", err)
		}
		src = string(b)
	}
	tpl, err := template.New("system").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("system template parse: %w", err)
	}
	// 模板只依赖静态选项，构造期渲染一次
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, templateData{Min: o.MinSuitability, Max: o.MaxSuitability}); err != nil {
		return nil, fmt.Errorf("system template render: %w", err)
	}
	return &Builder{sys: buf.String()}, nil
}

// Build: 每页以 "[Página N]" 标记为前缀拼接，追加用户描述的目标标准。
func (b *Builder) Build(ctx context.Context, batch contract.Batch, standard string) (contract.Prompt, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if len(batch.Pages) == 0 {
		return nil, fmt.Errorf("prompt: %w: empty batch", contract.ErrInvalidInput)
	}
	standard = strings.TrimSpace(standard)
	if standard == "" {
		return nil, fmt.Errorf("prompt: %w: empty standard description", contract.ErrInvalidInput)
	}

	var uw bytes.Buffer
	uw.Grow(1024)
	uw.WriteString(userHeader)
	uw.WriteString(batch.Range())
	uw.WriteString("\n\n")
	writePages(&uw, batch.Pages)
	uw.WriteString(standardHeader)
	uw.WriteString(standard)
	uw.WriteString("\n")
	uw.WriteString(outputRules)

	return contract.ChatPrompt([]contract.Message{
		{Role: "system", Content: b.sys},
		{Role: "user", Content: uw.String()},
	}), nil
}

// EstimateOverheadTokens: 估算与批无关的固定提示词开销（system + 固定 user 文本）。
func (b *Builder) EstimateOverheadTokens(estimate contract.TokenEstimator) int {
	if estimate == nil {
		return 0
	}
	return estimate(b.sys) + estimate(userHeader+standardHeader+outputRules)
}

var _ contract.PromptBuilder = (*Builder)(nil)

// writePages: 输出 "[Página N]\n<text>\n\n" 形式。
func writePages(w *bytes.Buffer, pages []contract.Page) {
	for _, p := range pages {
		w.WriteString("[Página ")
		w.WriteString(strconv.Itoa(p.Number))
		w.WriteString("]\n")
		w.WriteString(p.Text)
		w.WriteString("\n\n")
	}
}

const (
	userHeader     = "### Contenido del libro, "
	standardHeader = "### Estándar educativo a buscar\n"
	outputRules    = "\nREGLAS DE SALIDA:\n" +
		"1) Una línea de encabezado por ejercicio con el formato exacto: Ejercicio <N> (Página <P>) [Idoneidad: <S>]: <descripción>\n" +
		"2) <P> es el número del marcador [Página P] donde aparece el ejercicio.\n" +
		"3) Si ningún ejercicio cumple el estándar, no escribas ningún encabezado.\n"
)

// 默认 system 模板。
const defaultSystemTemplate = `
## Rol
Eres un especialista en didáctica que revisa libros de texto página por página. Tu tarea es localizar los ejercicios que trabajan el estándar educativo descrito por el usuario y valorar su idoneidad.

## Protocolo
- El usuario envía páginas precedidas por marcadores [Página N]. Usa siempre ese número N como página del ejercicio.
- Para cada ejercicio relevante escribe exactamente:
  Ejercicio <N> (Página <P>) [Idoneidad: <S>]: <descripción breve de la actividad y por qué encaja con el estándar>
- <S> es un entero entre {{.Min}} (poco adecuado) y {{.Max}} (muy adecuado).
- La descripción puede ocupar varias líneas; termina donde empieza el siguiente "Ejercicio".
- No inventes ejercicios ni páginas que no estén en el texto.

<example>
user: [Página 12]
Ejercicio 3. Completa el diálogo con el pretérito indefinido.

### Estándar educativo a buscar
Uso del pretérito indefinido en contextos orales

assistant: Ejercicio 3 (Página 12) [Idoneidad: 5]: Completar un diálogo usando el pretérito indefinido; práctica oral guiada.
</example>
`
