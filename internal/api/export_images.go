package api

import (
	"archive/zip"
	"fmt"
	"net/http"
	"strings"
	"time"

	"photo-style-service/internal/storage"

	"github.com/gin-gonic/gin"
)

type exportImagesRequest struct {
	Filenames []string `json:"filenames"`
}

// ExportImagesHandler 将选中的生成产物打包成 zip 下载。
// 个别文件缺失不算失败，缺失清单会写进压缩包里的 missing.txt。
func ExportImagesHandler(c *gin.Context) {
	var req exportImagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Detail(c, http.StatusBadRequest, "参数解析失败")
		return
	}
	if len(req.Filenames) == 0 {
		Detail(c, http.StatusBadRequest, "filenames 不能为空")
		return
	}

	type fileEntry struct {
		name string
		data []byte
	}
	var files []fileEntry
	var missing []string

	for _, filename := range req.Filenames {
		data, err := storage.GlobalStore.Fetch(filename)
		if err != nil {
			missing = append(missing, fmt.Sprintf("%s: %v", filename, err))
			continue
		}
		files = append(files, fileEntry{name: filename, data: data})
	}

	if len(files) == 0 {
		Detail(c, http.StatusNotFound, "没有可导出的图片")
		return
	}

	archiveName := fmt.Sprintf("images-%d.zip", time.Now().Unix())
	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", archiveName))
	if len(missing) > 0 {
		c.Header("X-Export-Partial", "true")
	}
	c.Status(http.StatusOK)

	zipWriter := zip.NewWriter(c.Writer)
	defer zipWriter.Close()

	for _, entry := range files {
		writer, err := zipWriter.Create(entry.name)
		if err != nil {
			missing = append(missing, fmt.Sprintf("%s: %v", entry.name, err))
			continue
		}
		if _, err := writer.Write(entry.data); err != nil {
			missing = append(missing, fmt.Sprintf("%s: %v", entry.name, err))
		}
	}

	if len(missing) > 0 {
		if writer, err := zipWriter.Create("missing.txt"); err == nil {
			_, _ = writer.Write([]byte(strings.Join(missing, "\n")))
		}
	}
}
