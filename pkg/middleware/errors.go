package middleware

import "github.com/gin-gonic/gin"

// AbortWithError は {"error": message} 形式のJSONを返して後続の処理を中断する。
func AbortWithError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
