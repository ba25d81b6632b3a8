package routers

import (
	"strings"
	"sync"
	"time"

	"marketplace-wallet/pkg/httputil"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp/totp"
)

var jwtSecret []byte

// SetJWTSecret 设置JWT密钥
func SetJWTSecret(secret string) {
	jwtSecret = []byte(secret)
}

// AuthMiddleware JWT认证中间件
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			httputil.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}

		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
			return jwtSecret, nil
		})
		if err != nil || !token.Valid {
			httputil.Unauthorized(c, "invalid token")
			c.Abort()
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			httputil.Unauthorized(c, "invalid token claims")
			c.Abort()
			return
		}

		rawUserID, ok := claims["user_id"].(float64)
		if !ok {
			httputil.Unauthorized(c, "invalid token claims")
			c.Abort()
			return
		}

		c.Set("user_id", uint(rawUserID))
		c.Next()
	}
}

// GetUserID 从上下文取认证用户ID
func GetUserID(c *gin.Context) uint {
	if v, ok := c.Get("user_id"); ok {
		if id, ok := v.(uint); ok {
			return id
		}
	}
	return 0
}

// TOTPMiddleware 管理接口的动态口令校验
func TOTPMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			httputil.Forbidden(c, "admin interface disabled")
			c.Abort()
			return
		}

		code := c.GetHeader("X-OTP-Code")
		if code == "" || !totp.Validate(code, secret) {
			httputil.Forbidden(c, "invalid otp code")
			c.Abort()
			return
		}

		c.Next()
	}
}

// CORSMiddleware CORS中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-OTP-Code")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// RateLimitMiddleware 简单的内存限流器（每IP令牌桶）
func RateLimitMiddleware() gin.HandlerFunc {
	var mu sync.Mutex
	visitors := make(map[string]*visitor)
	go cleanupVisitors(&mu, visitors)

	return func(c *gin.Context) {
		ip := c.ClientIP()
		mu.Lock()
		v, ok := visitors[ip]
		if !ok {
			v = &visitor{last: time.Now(), tokens: 10}
			visitors[ip] = v
		}
		// refill tokens
		now := time.Now()
		delta := now.Sub(v.last).Seconds()
		v.tokens += int(delta) // 1 token per second
		if v.tokens > 100 {
			v.tokens = 100
		}
		v.last = now
		if v.tokens <= 0 {
			mu.Unlock()
			httputil.Error(c, 429, "too many requests")
			c.Abort()
			return
		}
		v.tokens--
		mu.Unlock()
		c.Next()
	}
}

type visitor struct {
	last   time.Time
	tokens int
}

func cleanupVisitors(mu *sync.Mutex, visitors map[string]*visitor) {
	for {
		time.Sleep(1 * time.Minute)
		mu.Lock()
		for ip, v := range visitors {
			if time.Since(v.last) > 10*time.Minute {
				delete(visitors, ip)
			}
		}
		mu.Unlock()
	}
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	return gin.Logger()
}

// RecoveryMiddleware 恢复中间件
func RecoveryMiddleware() gin.HandlerFunc {
	return gin.Recovery()
}
