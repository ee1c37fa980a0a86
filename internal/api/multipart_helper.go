package api

import (
	"fmt"
	"io"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/mazrean/formstream"
	ginform "github.com/mazrean/formstream/gin"
)

// GenerateForm 表示 /generate 请求解析后的数据
type GenerateForm struct {
	TemplateID  string
	StyleParams string // 原始 JSON 字符串，由 handler 负责解析
	Quality     string
	Size        string
	ImageName   string
	Image       []byte
}

// ParseGenerateForm 使用 formstream 解析生成请求
func ParseGenerateForm(c *gin.Context) (*GenerateForm, error) {
	req := &GenerateForm{}

	p, err := ginform.NewParser(c)
	if err != nil {
		return nil, fmt.Errorf("创建解析器失败: %w", err)
	}

	textField := func(dst *string) func(io.Reader, formstream.Header) error {
		return func(reader io.Reader, header formstream.Header) error {
			data, err := io.ReadAll(reader)
			if err != nil {
				return err
			}
			*dst = string(data)
			return nil
		}
	}

	// 注册字段处理器
	p.Parser.Register("template_id", textField(&req.TemplateID))
	p.Parser.Register("style_params", textField(&req.StyleParams))
	p.Parser.Register("quality", textField(&req.Quality))
	p.Parser.Register("size", textField(&req.Size))

	// 注册文件处理器（可选的上传参考图）
	p.Parser.Register("image", func(reader io.Reader, header formstream.Header) error {
		content, err := io.ReadAll(reader)
		if err != nil {
			return fmt.Errorf("读取文件失败: %w", err)
		}
		req.Image = content
		req.ImageName = header.FileName()
		return nil
	})

	// 执行解析
	if err := p.Parse(); err != nil {
		// 如果 formstream 解析失败，尝试回退到标准库
		log.Printf("[回退] formstream 解析失败: %v, 尝试使用标准库\n", err)
		return parseWithStandardLibrary(c)
	}

	return req, nil
}

// parseWithStandardLibrary 标准库回退解析逻辑
func parseWithStandardLibrary(c *gin.Context) (*GenerateForm, error) {
	if err := c.Request.ParseMultipartForm(32 << 20); err != nil {
		return nil, fmt.Errorf("解析表单失败: %w", err)
	}

	req := &GenerateForm{
		TemplateID:  c.PostForm("template_id"),
		StyleParams: c.PostForm("style_params"),
		Quality:     c.PostForm("quality"),
		Size:        c.PostForm("size"),
	}

	form, err := c.MultipartForm()
	if err == nil && form.File != nil {
		if files := form.File["image"]; len(files) > 0 {
			file, err := files[0].Open()
			if err != nil {
				return req, nil
			}
			content, err := io.ReadAll(file)
			file.Close()
			if err != nil {
				return req, nil
			}
			req.Image = content
			req.ImageName = files[0].Filename
		}
	}

	return req, nil
}
