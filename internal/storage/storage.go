package storage

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"photo-style-service/internal/apperr"
)

// formatExtensions 输出格式到文件扩展名的固定映射，未知格式回落到 png
var formatExtensions = map[string]string{
	"png":  "png",
	"jpeg": "jpg",
	"webp": "webp",
}

func extensionFor(format string) string {
	if ext, ok := formatExtensions[strings.ToLower(strings.TrimSpace(format))]; ok {
		return ext
	}
	return "png"
}

// Store 生成产物的本地存储，可选镜像到阿里云 OSS（本地为准，镜像尽力而为）
type Store struct {
	BaseDir string
	bucket  *oss.Bucket
	domain  string
}

var GlobalStore *Store

// InitStore 初始化全局存储，ossConfig 为 nil 时只用本地目录
func InitStore(localDir string, ossConfig map[string]string) {
	GlobalStore = New(localDir, ossConfig)
}

func New(localDir string, ossConfig map[string]string) *Store {
	s := &Store{BaseDir: localDir}

	if ossConfig != nil {
		client, err := oss.New(ossConfig["endpoint"], ossConfig["accessKeyID"], ossConfig["accessKeySecret"])
		if err != nil {
			log.Printf("[Storage] 初始化 OSS 客户端失败，仅使用本地存储: %v", err)
			return s
		}
		bucket, err := client.Bucket(ossConfig["bucketName"])
		if err != nil {
			log.Printf("[Storage] 获取 OSS Bucket 失败，仅使用本地存储: %v", err)
			return s
		}
		s.bucket = bucket
		s.domain = ossConfig["domain"]
	}
	return s
}

// Save 将生成的图片整体写入内容目录，返回 (路径, 文件名)。
// 文件名 = {templateID}-{unix 秒}-{uuid 前 8 位 hex}.{扩展名}，随机后缀保证并发写入不会碰撞。
// 模板 ID 会进入文件名，写入侧和读取侧一样不允许逃逸基础目录。
func (s *Store) Save(data []byte, templateID, format string) (string, string, error) {
	if !safeTemplateID(templateID) {
		return "", "", apperr.New(apperr.KindValidation, "Invalid template_id")
	}

	filename := fmt.Sprintf("%s-%d-%s.%s",
		templateID,
		time.Now().Unix(),
		uuid.New().String()[:8],
		extensionFor(format),
	)

	if err := os.MkdirAll(s.BaseDir, 0755); err != nil {
		return "", "", apperr.Wrap(apperr.KindStorage, err, "Error saving image")
	}

	path := filepath.Join(s.BaseDir, filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", "", apperr.Wrap(apperr.KindStorage, err, "Error saving image")
	}

	s.saveThumbnail(filename, data)
	s.mirrorToOSS(filename, data)

	return path, filename, nil
}

// saveThumbnail 为图库列表生成 256x256 等比例缩略图，失败只记日志
func (s *Store) saveThumbnail(filename string, data []byte) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		log.Printf("[Storage] 解码图片生成缩略图失败: %v", err)
		return
	}
	thumb := imaging.Thumbnail(img, 256, 256, imaging.Lanczos)
	if err := imaging.Save(thumb, s.ThumbnailPath(filename)); err != nil {
		log.Printf("[Storage] 保存缩略图失败: %v", err)
	}
}

// mirrorToOSS 镜像上传，失败不影响本地结果
func (s *Store) mirrorToOSS(filename string, data []byte) {
	if s.bucket == nil {
		return
	}
	if err := s.bucket.PutObject(filename, bytes.NewReader(data)); err != nil {
		log.Printf("[Storage] OSS 镜像上传失败: %v", err)
	}
}

// RemoteURL 镜像启用时返回 OSS 访问地址，否则为空
func (s *Store) RemoteURL(filename string) string {
	if s.bucket == nil || s.domain == "" {
		return ""
	}
	return fmt.Sprintf("https://%s/%s", s.domain, filename)
}

// ThumbnailPath 缩略图的本地路径
func (s *Store) ThumbnailPath(filename string) string {
	return filepath.Join(s.BaseDir, "thumb_"+filename)
}

// Fetch 按文件名读回产物。文件名不合法（路径分隔符、..）或文件不存在都按 404 处理。
func (s *Store) Fetch(filename string) ([]byte, error) {
	path, err := s.resolve(filename)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.New(apperr.KindNotFound, "Image not found")
		}
		return nil, apperr.Wrap(apperr.KindStorage, err, "Error reading image")
	}
	return data, nil
}

// Delete 删除产物及其缩略图和 OSS 镜像
func (s *Store) Delete(filename string) error {
	path, err := s.resolve(filename)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return apperr.Wrap(apperr.KindStorage, err, "Error deleting image")
	}
	_ = os.Remove(s.ThumbnailPath(filename))

	if s.bucket != nil {
		if err := s.bucket.DeleteObject(filename); err != nil {
			log.Printf("[Storage] 删除 OSS 镜像失败: %v", err)
		}
	}
	return nil
}

// safeTemplateID 模板 ID 进入文件名前的校验，规则与 resolve 一致
func safeTemplateID(templateID string) bool {
	return templateID != "" && templateID != "." && templateID != ".." &&
		!strings.ContainsAny(templateID, `/\`) &&
		templateID == filepath.Base(filepath.Clean(templateID))
}

// resolve 把文件名安全地拼到基础目录下，拒绝任何可能逃逸目录的输入
func (s *Store) resolve(filename string) (string, error) {
	if filename == "" || filename == "." || filename == ".." ||
		strings.ContainsAny(filename, `/\`) ||
		filename != filepath.Base(filepath.Clean(filename)) {
		return "", apperr.New(apperr.KindNotFound, "Image not found")
	}
	return filepath.Join(s.BaseDir, filename), nil
}
