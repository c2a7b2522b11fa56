package middleware

import (
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
)

// NormalizePath はリクエストパスの "." と ".." を解決し、重複したスラッシュをまとめる。
// 末尾のスラッシュは保持する。
//
// 解決後もドットセグメントとして解釈され得る要素（"..;" のようなパスパラメータ付きや
// バックスラッシュ区切り）が残る場合はfalseを返す。
func NormalizePath(p string) (string, bool) {
	if p == "" {
		return p, true
	}

	cleaned := path.Clean(p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}

	segments := strings.FieldsFunc(cleaned, func(r rune) bool { return r == '/' || r == '\\' })
	for _, seg := range segments {
		name, _, _ := strings.Cut(seg, ";")
		if name == "." || name == ".." {
			return "", false
		}
	}
	return cleaned, true
}

// CleanPath はリクエストパスを正規化するGinミドルウェアを返す。
// AuthGateより前に置き、免除判定と上流への転送が同じパスを見るようにする。
// 正規化できないパスは400で中断する。
func CleanPath() gin.HandlerFunc {
	return func(c *gin.Context) {
		cleaned, ok := NormalizePath(c.Request.URL.Path)
		if !ok {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		if cleaned != c.Request.URL.Path {
			c.Request.URL.Path = cleaned
			c.Request.URL.RawPath = ""
		}
		c.Next()
	}
}
