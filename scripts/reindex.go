package main

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"photo-style-service/internal/config"
	"photo-style-service/internal/model"
)

// 对齐数据库和产物目录：目录里才是权威记录，数据库只是图库索引。
// 缺行补行，文件没了就删行。
func main() {
	config.InitConfig()
	model.InitDB(config.GlobalConfig.Database.Path)

	baseDir := config.GlobalConfig.Storage.LocalDir
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		log.Fatalf("读取产物目录失败: %v", err)
	}

	inserted, pruned := 0, 0

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, "thumb_") {
			continue
		}
		templateID, createdAt, ok := parseArtifactName(name)
		if !ok {
			log.Printf("跳过无法识别的文件: %s", name)
			continue
		}

		var count int64
		model.DB.Model(&model.Generation{}).Where("filename = ?", name).Count(&count)
		if count > 0 {
			continue
		}

		snapshot, _ := json.Marshal(map[string]string{})
		record := model.Generation{
			Filename:    name,
			TemplateID:  templateID,
			StyleParams: string(snapshot),
			LocalPath:   filepath.Join(baseDir, name),
			CreatedAt:   createdAt,
		}
		if err := model.DB.Create(&record).Error; err != nil {
			log.Printf("补录 %s 失败: %v", name, err)
			continue
		}
		inserted++
	}

	// 清掉文件已不存在的记录
	var records []model.Generation
	if err := model.DB.Find(&records).Error; err != nil {
		log.Fatalf("查询生成历史失败: %v", err)
	}
	for _, record := range records {
		if _, err := os.Stat(filepath.Join(baseDir, record.Filename)); os.IsNotExist(err) {
			if err := model.DB.Unscoped().Delete(&record).Error; err != nil {
				log.Printf("删除失效记录 %s 失败: %v", record.Filename, err)
				continue
			}
			pruned++
		}
	}

	log.Printf("重建完成: 补录 %d 条, 清理 %d 条", inserted, pruned)
}

// parseArtifactName 从 {templateID}-{unix 秒}-{8 位 hex}.{ext} 反推模板和生成时间。
// 模板 ID 自身可能带连字符，所以从尾部往前拆。
func parseArtifactName(name string) (string, time.Time, bool) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	parts := strings.Split(base, "-")
	if len(parts) < 3 {
		return "", time.Time{}, false
	}
	suffix := parts[len(parts)-1]
	if len(suffix) != 8 {
		return "", time.Time{}, false
	}
	seconds, err := strconv.ParseInt(parts[len(parts)-2], 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	templateID := strings.Join(parts[:len(parts)-2], "-")
	if templateID == "" {
		return "", time.Time{}, false
	}
	return templateID, time.Unix(seconds, 0), true
}
