package api

import (
	"net/http"

	"photo-style-service/internal/template"

	"github.com/gin-gonic/gin"
)

// ListTemplatesHandler 返回全部样式模板及其变体表
func ListTemplatesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"templates": template.All(),
	})
}
