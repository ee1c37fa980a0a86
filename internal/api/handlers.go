package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"photo-style-service/internal/apperr"
	"photo-style-service/internal/config"
	"photo-style-service/internal/model"
	"photo-style-service/internal/normalize"
	"photo-style-service/internal/provider"
	"photo-style-service/internal/session"
	"photo-style-service/internal/storage"
	"photo-style-service/internal/template"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
)

// Generator 抽象生成客户端，方便测试注入假后端
type Generator interface {
	Generate(ctx context.Context, input provider.GenerateInput) (*provider.Result, error)
	Healthcheck(ctx context.Context) (int, error)
}

var GlobalGenerator Generator

// 占位 Key，健康检查时直接判为未配置
var placeholderKeys = map[string]bool{
	"your-api-key-here":       true,
	"sk-your-actual-key-here": true,
}

// Detail 错误响应，统一 {"detail": "..."} 结构
func Detail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"detail": message})
}

// failWith 按错误分类映射 HTTP 状态码
func failWith(c *gin.Context, err error) {
	Detail(c, apperr.HTTPStatus(err), err.Error())
}

// RegisterRoutes 注册全部路由
func RegisterRoutes(r *gin.Engine) {
	r.GET("/", RootHandler)
	r.GET("/health", HealthHandler)
	r.POST("/generate", GenerateHandler)
	r.GET("/image/:filename", GetImageHandler)
	r.GET("/styles/:template_id", GetStylesHandler)
	r.GET("/templates", ListTemplatesHandler)
	r.GET("/gallery", ListGalleryHandler)
	r.POST("/gallery/export", ExportImagesHandler)
	r.DELETE("/gallery/:id", DeleteGalleryHandler)
	r.GET("/session/state", SessionStateHandler)
}

// RootHandler 服务信息
func RootHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "AI Photo Style Generator API",
		"status":  "active",
	})
}

// HealthHandler 健康检查：先做 Key 形态检查，再对 OpenAI 做一次真实往返
func HealthHandler(c *gin.Context) {
	apiKey := strings.TrimSpace(config.GlobalConfig.OpenAI.APIKey)

	unhealthy := func(errMsg, suggestion string) {
		c.JSON(http.StatusOK, gin.H{
			"status":     "unhealthy",
			"error":      errMsg,
			"suggestion": suggestion,
		})
	}

	if apiKey == "" {
		unhealthy("OPENAI_API_KEY not configured", "Set OPENAI_API_KEY in the environment or config file")
		return
	}
	if placeholderKeys[apiKey] {
		unhealthy("OPENAI_API_KEY is still the placeholder value", "Replace the placeholder with your real OpenAI API key")
		return
	}
	if !strings.HasPrefix(apiKey, "sk-") {
		unhealthy("OPENAI_API_KEY has an unexpected format", "OpenAI API keys start with 'sk-'")
		return
	}

	if GlobalGenerator == nil {
		unhealthy("generation client not initialized", "Check server logs for startup errors")
		return
	}

	count, err := GlobalGenerator.Healthcheck(c.Request.Context())
	if err != nil {
		log.Printf("[API] 健康检查失败: %v\n", err)
		unhealthy(err.Error(), "Verify the API key and network connectivity to OpenAI")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":           "healthy",
		"openai":           "connected",
		"api_key_preview":  previewAPIKey(apiKey),
		"models_available": count,
	})
}

func previewAPIKey(key string) string {
	if len(key) < 14 {
		return key
	}
	return key[:10] + "..." + key[len(key)-4:]
}

// GenerateHandler 处理风格化生成请求：编译提示词 → 调远端生成 → 落盘 → 记录
func GenerateHandler(c *gin.Context) {
	form, err := ParseGenerateForm(c)
	if err != nil {
		log.Printf("[API] 解析 multipart 请求失败: %v\n", err)
		Detail(c, http.StatusBadRequest, "解析请求失败: "+err.Error())
		return
	}

	if strings.TrimSpace(form.TemplateID) == "" {
		Detail(c, http.StatusBadRequest, "template_id is required")
		return
	}
	styleParams, err := parseStyleParams(form.StyleParams)
	if err != nil {
		failWith(c, err)
		return
	}

	quality := form.Quality
	if quality == "" {
		quality = "medium"
	}
	size := form.Size
	if size == "" {
		size = "1024x1024"
	}

	sess := sessionFor(c)

	// 可选参考图：解码失败视为客户端错误
	var reference *normalize.Normalized
	if len(form.Image) > 0 {
		reference, err = normalize.Normalize(form.Image)
		if err != nil {
			failWith(c, err)
			return
		}
		log.Printf("[API] 参考图已归一化: %s\n", reference.Describe())
		debugLog(sess, "Reference image normalized: %s", reference.Describe())
	}

	prompt := template.Compile(form.TemplateID, styleParams)
	log.Printf("[API] 编译提示词: template=%s, prompt=%s\n", form.TemplateID, prompt)
	debugLog(sess, "Compiled prompt for %s: %s", form.TemplateID, prompt)

	if GlobalGenerator == nil {
		failWith(c, apperr.New(apperr.KindConfiguration, "generation client not initialized"))
		return
	}

	result, err := GlobalGenerator.Generate(c.Request.Context(), provider.GenerateInput{
		Prompt:    prompt,
		Reference: reference,
		Quality:   quality,
		Size:      size,
	})
	if err != nil {
		log.Printf("[API] 生成失败: %v\n", err)
		debugLog(sess, "Generation failed: %v", err)
		failWith(c, err)
		return
	}

	path, filename, err := storage.GlobalStore.Save(result.Images[0], form.TemplateID, "png")
	if err != nil {
		log.Printf("[API] 保存产物失败: %v\n", err)
		failWith(c, err)
		return
	}
	debugLog(sess, "Saved %s (model: %s)", filename, result.ModelUsed)

	recordGeneration(form.TemplateID, filename, path, prompt, quality, size, result, styleParams)
	if sess != nil {
		sess.AppendGallery(session.GalleryEntry{
			Filename:   filename,
			TemplateID: form.TemplateID,
			Prompt:     prompt,
			CreatedAt:  time.Now().Unix(),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"filename":     filename,
		"file_path":    path,
		"prompt":       prompt,
		"template_id":  form.TemplateID,
		"style_params": styleParams,
	})
}

// parseStyleParams 解析 style_params 字段：必须是 JSON 对象，值为标量并统一转成字符串
func parseStyleParams(raw string) (map[string]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, apperr.New(apperr.KindValidation, "style_params is required")
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, apperr.New(apperr.KindValidation, "Invalid style_params JSON")
	}

	params := make(map[string]string, len(decoded))
	for key, value := range decoded {
		switch v := value.(type) {
		case string:
			params[key] = v
		case float64:
			params[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			params[key] = strconv.FormatBool(v)
		case nil:
			// 跳过 null，等同于未提供
		default:
			return nil, apperr.New(apperr.KindValidation, "Invalid style_params JSON")
		}
	}
	return params, nil
}

// recordGeneration 写一条生成历史，失败只记日志（磁盘目录才是权威记录）
func recordGeneration(templateID, filename, path, prompt, quality, size string, result *provider.Result, styleParams map[string]string) {
	if model.DB == nil {
		return
	}

	width, height := decodeDimensions(result.Images[0])
	snapshot, _ := json.Marshal(styleParams)
	record := model.Generation{
		Filename:      filename,
		TemplateID:    templateID,
		Prompt:        prompt,
		StyleParams:   string(snapshot),
		Quality:       quality,
		Size:          size,
		ModelUsed:     result.ModelUsed,
		Width:         width,
		Height:        height,
		LocalPath:     path,
		ThumbnailPath: storage.GlobalStore.ThumbnailPath(filename),
		RemoteURL:     storage.GlobalStore.RemoteURL(filename),
	}
	if err := model.DB.Create(&record).Error; err != nil {
		log.Printf("[API] 写入生成历史失败: %v\n", err)
	}
}

func decodeDimensions(data []byte) (int, int) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	bounds := img.Bounds()
	return bounds.Dx(), bounds.Dy()
}

// GetImageHandler 按文件名返回生成的图片
func GetImageHandler(c *gin.Context) {
	filename := c.Param("filename")
	data, err := storage.GlobalStore.Fetch(filename)
	if err != nil {
		failWith(c, err)
		return
	}
	c.Data(http.StatusOK, contentTypeFor(filename), data)
}

func contentTypeFor(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	}
	return "application/octet-stream"
}

// GetStylesHandler 返回模板的变体列表，键名随变体表类型变化
func GetStylesHandler(c *gin.Context) {
	templateID := c.Param("template_id")
	kind, names, ok := template.Variants(templateID)
	if !ok {
		Detail(c, http.StatusNotFound, "Template not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{string(kind): names})
}

// ListGalleryHandler 获取生成历史（分页）
func ListGalleryHandler(c *gin.Context) {
	if model.DB == nil {
		Detail(c, http.StatusInternalServerError, "数据库未初始化")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page <= 0 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if pageSize <= 0 {
		pageSize = 20
	} else if pageSize > 100 {
		pageSize = 100
	}

	query := model.DB.Model(&model.Generation{})
	if templateID := c.Query("template_id"); templateID != "" {
		query = query.Where("template_id = ?", templateID)
	}
	if keyword := c.Query("keyword"); keyword != "" {
		query = query.Where("prompt LIKE ?", "%"+keyword+"%")
	}

	var total int64
	query.Count(&total)

	var records []model.Generation
	offset := (page - 1) * pageSize
	if err := query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&records).Error; err != nil {
		Detail(c, http.StatusInternalServerError, "查询失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total": total,
		"list":  records,
	})
}

// DeleteGalleryHandler 删除一条生成历史及其文件
func DeleteGalleryHandler(c *gin.Context) {
	if model.DB == nil {
		Detail(c, http.StatusInternalServerError, "数据库未初始化")
		return
	}

	var record model.Generation
	if err := model.DB.Where("id = ?", c.Param("id")).First(&record).Error; err != nil {
		Detail(c, http.StatusNotFound, "Image not found")
		return
	}

	// 记录日志但继续删除数据库记录，避免因为文件不存在导致记录无法删除
	if err := storage.GlobalStore.Delete(record.Filename); err != nil {
		log.Printf("[API] 删除物理文件失败 %s: %v\n", record.Filename, err)
	}

	if err := model.DB.Delete(&record).Error; err != nil {
		Detail(c, http.StatusInternalServerError, "删除数据库记录失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// SessionStateHandler 返回会话的调试日志与最近作品
func SessionStateHandler(c *gin.Context) {
	sessionID := strings.TrimSpace(c.GetHeader("X-Session-ID"))
	if sessionID == "" {
		Detail(c, http.StatusBadRequest, "X-Session-ID header is required")
		return
	}

	debug, gallery := session.GlobalRegistry.Get(sessionID).Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"debug_log":  debug,
		"recent":     gallery,
	})
}

// sessionFor 从请求头取会话状态，未携带会话 ID 时返回 nil
func sessionFor(c *gin.Context) *session.State {
	sessionID := strings.TrimSpace(c.GetHeader("X-Session-ID"))
	if sessionID == "" {
		return nil
	}
	return session.GlobalRegistry.Get(sessionID)
}

func debugLog(sess *session.State, format string, args ...interface{}) {
	if sess == nil {
		return
	}
	sess.AppendDebug(fmt.Sprintf(format, args...))
}
