package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"photo-style-service/internal/apperr"
	"photo-style-service/internal/normalize"
)

const (
	// PrimaryModel 首选模型，失败且确认模型不可用时才降级
	PrimaryModel = "gpt-image-1"
	// FallbackTextModel 纯文生图的降级模型
	FallbackTextModel = "dall-e-3"
)

// Client 封装 OpenAI 图片生成接口（文生图 / 参考图编辑），带单次降级
type Client struct {
	client     *openai.Client
	httpClient *http.Client
	apiBase    string
	apiKey     string
}

// NewClient 构建生成客户端，API Key 缺失时返回配置错误
func NewClient(apiKey, apiBase string, timeoutSeconds int) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, apperr.New(apperr.KindConfiguration, "OpenAI API key not configured")
	}

	timeout := time.Duration(timeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 150 * time.Second
	}

	base := NormalizeOpenAIBaseURL(apiBase)
	httpClient := &http.Client{Timeout: timeout}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
		option.WithBaseURL(base),
		option.WithHeader("User-Agent", "photo-style-service/1.0"),
	}
	client := openai.NewClient(opts...)

	return &Client{
		client:     &client,
		httpClient: httpClient,
		apiBase:    base,
		apiKey:     apiKey,
	}, nil
}

// GenerateInput 一次生成请求的全部输入
type GenerateInput struct {
	Prompt    string
	Reference *normalize.Normalized // 为 nil 时走纯文生图
	Quality   string
	Size      string
}

// Result 生成结果，图片已全部解析为原始字节
type Result struct {
	Images    [][]byte
	ModelUsed string
}

// Generate 调用远端生成图片。参考图存在时走 edits 端点，否则走 generations。
// 仅当主模型被确认不可用时降级一次：有参考图 → variations（不携带提示词，
// 这是 DALL-E 2 接口的既有语义缺口），无参考图 → dall-e-3 文生图。
func (c *Client) Generate(ctx context.Context, input GenerateInput) (*Result, error) {
	var respBytes []byte
	var err error

	if input.Reference != nil {
		log.Printf("[OpenAI] 使用 %s 编辑参考图, prompt: %s\n", PrimaryModel, input.Prompt)
		respBytes, err = c.editImage(ctx, input)
	} else {
		log.Printf("[OpenAI] 使用 %s 文生图, prompt: %s\n", PrimaryModel, input.Prompt)
		respBytes, err = c.generateImage(ctx, PrimaryModel, input.Prompt, input.Quality, input.Size)
	}

	modelUsed := PrimaryModel
	if err != nil {
		if !isModelUnavailable(err) {
			return nil, apperr.Wrap(apperr.KindGenerationFailed, err, "AI generation failed")
		}

		// 主模型不可用，降级到 DALL-E 系列，只重试这一次
		log.Printf("[OpenAI] %s 不可用，降级到 DALL-E: %v\n", PrimaryModel, err)
		if input.Reference != nil {
			respBytes, err = c.createVariation(ctx, input.Reference)
			modelUsed = "dall-e-2"
		} else {
			respBytes, err = c.generateImage(ctx, FallbackTextModel, input.Prompt, mapFallbackQuality(input.Quality), input.Size)
			modelUsed = FallbackTextModel
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.KindGenerationFailed, err, "AI generation failed")
		}
	}

	images, err := c.resolveImages(ctx, respBytes)
	if err != nil {
		return nil, err
	}

	return &Result{Images: images, ModelUsed: modelUsed}, nil
}

// Healthcheck 对 /models 做一次真实往返，返回可用模型数量
func (c *Client) Healthcheck(ctx context.Context) (int, error) {
	var respBytes []byte
	if err := c.client.Get(ctx, "/models", nil, &respBytes); err != nil {
		return 0, fmt.Errorf("%s", formatOpenAIClientError(err))
	}

	var payload struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBytes, &payload); err != nil {
		return 0, fmt.Errorf("解析模型列表失败: %w", err)
	}
	return len(payload.Data), nil
}

func (c *Client) generateImage(ctx context.Context, model, prompt, quality, size string) ([]byte, error) {
	body := map[string]interface{}{
		"model":  model,
		"prompt": prompt,
		"size":   size,
		"n":      1,
	}
	if quality != "" {
		body["quality"] = quality
	}

	var respBytes []byte
	if err := c.client.Post(ctx, "/images/generations", body, &respBytes); err != nil {
		return nil, err
	}
	if len(respBytes) == 0 {
		return nil, fmt.Errorf("接口未返回内容")
	}
	return respBytes, nil
}

// editImage 调用 /images/edits。该端点只接受 multipart 表单，
// 参考图以原始字节加合成文件名转发。
func (c *Client) editImage(ctx context.Context, input GenerateInput) ([]byte, error) {
	fields := map[string]string{
		"model":  PrimaryModel,
		"prompt": input.Prompt,
		"size":   input.Size,
	}
	return c.doFormRequest(ctx, "/images/edits", fields, input.Reference.PNG)
}

// createVariation 调用 /images/variations（DALL-E 2），该端点不接受提示词
func (c *Client) createVariation(ctx context.Context, reference *normalize.Normalized) ([]byte, error) {
	fields := map[string]string{
		"n":    "1",
		"size": "1024x1024",
	}
	return c.doFormRequest(ctx, "/images/variations", fields, reference.PNG)
}

func (c *Client) doFormRequest(ctx context.Context, path string, fields map[string]string, imageData []byte) ([]byte, error) {
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("构建表单失败: %w", err)
		}
	}
	part, err := writer.CreateFormFile("image", normalize.SyntheticFilename)
	if err != nil {
		return nil, fmt.Errorf("构建表单失败: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("构建表单失败: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("构建表单失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("User-Agent", "photo-style-service/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseAPIError(resp.StatusCode, respBytes)
	}
	return respBytes, nil
}

// imageSource 响应中单张图片的载体形式，在解析边界一次性判定
type imageSource int

const (
	sourceInlineBase64 imageSource = iota
	sourceRemoteURL
)

type payloadImage struct {
	source imageSource
	b64    string
	url    string
}

// resolveImages 解析响应并把所有图片落成原始字节。
// gpt-image-1 返回 b64_json，DALL-E 3 返回 url，两种形态只在这里区分。
func (c *Client) resolveImages(ctx context.Context, respBytes []byte) ([][]byte, error) {
	var payload struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
			URL     string `json:"url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBytes, &payload); err != nil {
		return nil, apperr.Wrap(apperr.KindGenerationFailed, err, "Invalid response format")
	}

	tagged := make([]payloadImage, 0, len(payload.Data))
	for _, item := range payload.Data {
		switch {
		case item.B64JSON != "":
			tagged = append(tagged, payloadImage{source: sourceInlineBase64, b64: item.B64JSON})
		case item.URL != "":
			tagged = append(tagged, payloadImage{source: sourceRemoteURL, url: item.URL})
		}
	}

	var images [][]byte
	for _, img := range tagged {
		switch img.source {
		case sourceInlineBase64:
			decoded, err := base64.StdEncoding.DecodeString(img.b64)
			if err != nil {
				log.Printf("[OpenAI] 解码 b64_json 失败: %v\n", err)
				continue
			}
			images = append(images, decoded)
		case sourceRemoteURL:
			fetched, err := c.fetchImage(ctx, img.url)
			if err != nil {
				log.Printf("[OpenAI] 下载结果图片失败: %v\n", err)
				continue
			}
			images = append(images, fetched)
		}
	}

	if len(images) == 0 {
		return nil, apperr.New(apperr.KindGenerationFailed, "No image generated")
	}
	return images, nil
}

func (c *Client) fetchImage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("下载图片失败: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// apiError multipart 端点的错误响应（client.Post 之外的路径）
type apiError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

func parseAPIError(statusCode int, respBytes []byte) error {
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &payload); err != nil {
		return &apiError{StatusCode: statusCode, Message: strings.TrimSpace(string(respBytes))}
	}
	return &apiError{
		StatusCode: statusCode,
		Code:       payload.Error.Code,
		Message:    payload.Error.Message,
	}
}

// isModelUnavailable 判定降级触发条件。优先看结构化错误码 model_not_found，
// 其次退回文档化的子串匹配（"model" 且 "not found"/"does not exist"）。
// 不要增加新的触发条件。
func isModelUnavailable(err error) bool {
	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		if openaiErr.Code == "model_not_found" {
			return true
		}
		return matchModelUnavailable(openaiErr.Message)
	}

	var reqErr *apiError
	if errors.As(err, &reqErr) {
		if reqErr.Code == "model_not_found" {
			return true
		}
		return matchModelUnavailable(reqErr.Message)
	}

	return matchModelUnavailable(err.Error())
}

func matchModelUnavailable(message string) bool {
	msg := strings.ToLower(message)
	return strings.Contains(msg, "model") &&
		(strings.Contains(msg, "not found") || strings.Contains(msg, "does not exist"))
}

// mapFallbackQuality gpt-image-1 的质量档位映射到 DALL-E 3 的两档
func mapFallbackQuality(quality string) string {
	switch quality {
	case "high":
		return "hd"
	default:
		return "standard"
	}
}

// NormalizeOpenAIBaseURL 规范化 API 地址，保证以 /v1 结尾
func NormalizeOpenAIBaseURL(apiBase string) string {
	base := strings.TrimSpace(apiBase)
	if base == "" {
		return "https://api.openai.com/v1"
	}

	base = strings.TrimRight(base, "/")
	if strings.Contains(base, "/v1/") {
		return strings.Split(base, "/v1/")[0] + "/v1"
	}
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

func formatOpenAIClientError(err error) string {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := strings.TrimSpace(apiErr.Message)
		if msg == "" {
			msg = strings.TrimSpace(apiErr.RawJSON())
		}
		if msg != "" {
			return msg
		}
	}
	return err.Error()
}
