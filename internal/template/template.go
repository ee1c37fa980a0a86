package template

import (
	"fmt"
	"strings"
)

// VariantKind 模板变体表的类型标签，同一模板只会有一种
type VariantKind string

const (
	KindKeywords VariantKind = "keywords"
	KindStyles   VariantKind = "styles"
	KindModes    VariantKind = "modes"
)

// paramName 变体表类型对应的请求参数名
func (k VariantKind) paramName() string {
	switch k {
	case KindKeywords:
		return "keyword"
	case KindModes:
		return "mode"
	default:
		return "style"
	}
}

// StyleTemplate 静态样式模板：基础句式 + 一张变体表
type StyleTemplate struct {
	ID       string
	Base     string
	Kind     VariantKind
	order    []string
	variants map[string]string
}

// styleTemplates 进程启动时构建一次，之后只读
var styleTemplates = buildTemplates()

func buildTemplates() map[string]*StyleTemplate {
	list := []*StyleTemplate{
		newTemplate("retro-remix",
			"Transform this image into a retro {keyword} style with vintage aesthetics, film grain, and nostalgic vibes",
			KindKeywords,
			variant("Y2K Chrome", "Y2K chrome metallic aesthetic with holographic effects and futuristic elements"),
			variant("80s Neon", "1980s neon synthwave style with bright pink and blue colors, geometric patterns"),
			variant("90s Grunge", "1990s grunge style with distorted textures, dark aesthetic, and alternative vibes"),
			variant("Vaporwave", "vaporwave aesthetic with pastel colors, geometric shapes, and dreamy atmosphere"),
		),
		newTemplate("funny-toon",
			"Transform this person into a smooth, funny cartoon character with {style}",
			KindStyles,
			variant("Classic Cartoon", "smooth Disney-style 2D animation with exaggerated facial features, bright colors, clean lines, and a cheerful expression"),
			variant("Anime Style", "smooth anime character with large expressive eyes, stylized hair, soft shading, and cute cartoon proportions"),
			variant("3D Cartoon", "smooth Pixar-style 3D cartoon character with rounded features, warm lighting, and friendly expression"),
			variant("Comic Book", "smooth comic book character with bold outlines, vibrant colors, dynamic shading, and heroic proportions"),
			variant("Wild and Wacky", "extremely funny and exaggerated cartoon character with oversized features, wild expressions, bright crazy colors, smooth animation style, and comedic proportions"),
		),
		newTemplate("cover-shoot",
			"Transform this into a professional magazine cover photo with {style} styling",
			KindStyles,
			variant("Fashion", "high-fashion magazine cover with professional lighting and styling"),
			variant("Glamour", "glamour photography style with soft lighting and elegant poses"),
			variant("Editorial", "editorial fashion photography with artistic composition"),
			variant("Portrait", "professional portrait photography with studio lighting"),
		),
		newTemplate("glitch-pro",
			"Apply {mode} digital glitch effects to this image",
			KindModes,
			variant("Retro", "retro digital glitch effects with VHS aesthetics and scan lines"),
			variant("Chaos", "chaotic digital distortion with pixel sorting and data corruption effects"),
			variant("Neon", "neon glitch effects with bright colors and electronic aesthetics"),
			variant("Matrix", "matrix-style digital rain and code effects"),
		),
		newTemplate("footy-fan",
			"Create a football fan artwork in {team} colors with {style}",
			KindStyles,
			variant("Team Colors", "team colors with football graphics and fan atmosphere"),
			variant("Stadium", "stadium atmosphere with crowd and team elements"),
			variant("Vintage", "vintage football poster style with retro typography"),
			variant("Modern", "modern sports graphics with dynamic elements"),
		),
	}

	m := make(map[string]*StyleTemplate, len(list))
	for _, t := range list {
		m[t.ID] = t
	}
	return m
}

type variantEntry struct {
	name string
	desc string
}

func variant(name, desc string) variantEntry {
	return variantEntry{name: name, desc: desc}
}

func newTemplate(id, base string, kind VariantKind, entries ...variantEntry) *StyleTemplate {
	t := &StyleTemplate{
		ID:       id,
		Base:     base,
		Kind:     kind,
		order:    make([]string, 0, len(entries)),
		variants: make(map[string]string, len(entries)),
	}
	for _, e := range entries {
		t.order = append(t.order, e.name)
		t.variants[e.name] = e.desc
	}
	return t
}

// Variants 返回模板的变体表类型与变体名列表（声明顺序），模板不存在时 ok 为 false
// Info 模板的对外描述
type Info struct {
	ID       string      `json:"id"`
	Kind     VariantKind `json:"kind"`
	Variants []string    `json:"variants"`
}

// All 返回全部模板的描述，顺序固定
func All() []Info {
	ids := []string{"retro-remix", "funny-toon", "cover-shoot", "glitch-pro", "footy-fan"}
	infos := make([]Info, 0, len(ids))
	for _, id := range ids {
		kind, names, _ := Variants(id)
		infos = append(infos, Info{ID: id, Kind: kind, Variants: names})
	}
	return infos
}

func Variants(templateID string) (kind VariantKind, names []string, ok bool) {
	t, found := styleTemplates[templateID]
	if !found {
		return "", nil, false
	}
	names = make([]string, len(t.order))
	copy(names, t.order)
	return t.Kind, names, true
}

// Compile 将 (模板 ID, 样式参数) 编译为生图提示词。
// 未知模板回落到通用提示词，永不报错；输出非空且空白已归一化。
func Compile(templateID string, params map[string]string) string {
	prompt := compile(templateID, params)

	if text := strings.TrimSpace(params["optional_text"]); text != "" {
		prompt = fmt.Sprintf("%s Include text: '%s'", prompt, text)
	}

	// 折叠连续空白，保证提示词是干净的单行文本
	return strings.Join(strings.Fields(prompt), " ")
}

func compile(templateID string, params map[string]string) string {
	t, ok := styleTemplates[templateID]
	if !ok {
		style := params["style"]
		if style == "" {
			style = "artistic"
		}
		return fmt.Sprintf("Transform this image with %s effects", style)
	}

	switch templateID {
	case "funny-toon":
		// 特例：命中变体时丢弃基础句式，合成一段完整的卡通化指令
		style := paramOrDefault(params, "style", "Classic Cartoon")
		if desc, ok := t.variants[style]; ok {
			return fmt.Sprintf("Transform this person into a %s. "+
				"Keep the person's basic facial structure and pose recognizable but make it cartoon-like. "+
				"Ensure smooth, clean rendering with professional cartoon quality. "+
				"Make it funny and appealing with cartoon proportions. "+
				"The result should look like professional animation artwork.", desc)
		}
		return fmt.Sprintf("Transform this person into a smooth, funny cartoon character with %s style", style)

	case "retro-remix":
		keyword := paramOrDefault(params, "keyword", "retro")
		if desc, ok := t.variants[keyword]; ok {
			return fmt.Sprintf("Transform this image into a %s aesthetic with vintage vibes", desc)
		}
		return interpolate(t.Base, map[string]string{"keyword": keyword})

	case "footy-fan":
		team := paramOrDefault(params, "team", "football team")
		style := paramOrDefault(params, "style", "Team Colors")
		return interpolate(t.Base, map[string]string{"team": team, "style": style})

	default:
		// cover-shoot / glitch-pro：按变体表类型取参数，缺省取声明的第一个变体
		name := params[t.Kind.paramName()]
		if name == "" && len(t.order) > 0 {
			name = t.order[0]
		}
		if desc, ok := t.variants[name]; ok {
			return fmt.Sprintf("Transform this image into %s", desc)
		}
		return interpolate(t.Base, map[string]string{t.Kind.paramName(): name})
	}
}

func paramOrDefault(params map[string]string, key, fallback string) string {
	if v := params[key]; v != "" {
		return v
	}
	return fallback
}

// interpolate 朴素的 {name} 占位符替换，未提供的占位符保持原样
func interpolate(base string, values map[string]string) string {
	out := base
	for key, value := range values {
		out = strings.ReplaceAll(out, "{"+key+"}", value)
	}
	return out
}
