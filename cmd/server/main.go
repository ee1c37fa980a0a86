package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"photo-style-service/internal/api"
	"photo-style-service/internal/config"
	"photo-style-service/internal/model"
	"photo-style-service/internal/provider"
	"photo-style-service/internal/session"
	"photo-style-service/internal/storage"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.InitConfig()

	// 2. 初始化数据库
	model.InitDB(config.GlobalConfig.Database.Path)

	// 3. 初始化存储
	var ossConfig map[string]string
	if config.GlobalConfig.Storage.OSS.Enabled {
		ossConfig = map[string]string{
			"endpoint":        config.GlobalConfig.Storage.OSS.Endpoint,
			"accessKeyID":     config.GlobalConfig.Storage.OSS.AccessKeyID,
			"accessKeySecret": config.GlobalConfig.Storage.OSS.AccessKeySecret,
			"bucketName":      config.GlobalConfig.Storage.OSS.BucketName,
			"domain":          config.GlobalConfig.Storage.OSS.Domain,
		}
	}
	storage.InitStore(config.GlobalConfig.Storage.LocalDir, ossConfig)

	// 4. 初始化生成客户端。Key 缺失时服务照常启动，/health 会给出修复提示
	client, err := provider.NewClient(
		config.GlobalConfig.OpenAI.APIKey,
		config.GlobalConfig.OpenAI.APIBase,
		config.GlobalConfig.OpenAI.TimeoutSeconds,
	)
	if err != nil {
		log.Printf("[启动] 生成客户端未就绪: %v", err)
	} else {
		api.GlobalGenerator = client
	}

	// 5. 设置路由
	r := gin.Default()

	// 允许跨域请求
	// 注意：中间件必须在路由注册之前设置
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Session-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	api.RegisterRoutes(r)

	// 定期清理长期不活跃的会话状态
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if removed := session.GlobalRegistry.Sweep(); removed > 0 {
				log.Printf("[会话] 清理 %d 个过期会话", removed)
			}
		}
	}()

	// 6. 优雅启动与关闭
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.GlobalConfig.Server.Port),
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("启动服务失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("正在关闭服务...")

	// 优雅停止 HTTP 服务
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("服务器强制关闭:", err)
	}

	log.Println("服务已安全退出")
}
