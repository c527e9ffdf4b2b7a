package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/life2you_mini/bridgesync/internal/fieldmap"
)

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error 统一错误响应
func Error(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Code: status, Message: message})
}

// external 序列化后把键名转换为对外 camelCase，数字保持原始字面量
func external(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("序列化失败: %w", err)
	}
	var generic interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("反序列化失败: %w", err)
	}
	return fieldmap.ToExternal(generic), nil
}
