package httpapi

import (
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"

	"github.com/gin-gonic/gin"
)

// PProfConfig mounts the runtime profiler under /debug/pprof/.
type PProfConfig struct {
	Enabled       bool
	Token         string
	AllowInsecure bool
}

var errInsecurePProf = errors.New("non-loopback addr requires pprof token or allow_insecure")

func (c PProfConfig) check(addr string) error {
	if c.Token == "" && !c.AllowInsecure && !isLoopbackAddr(addr) {
		return errInsecurePProf
	}
	return nil
}

func mountPProf(r *gin.Engine, token string) {
	g := r.Group("/debug/pprof", pprofAuth(token))
	g.GET("/", gin.WrapF(hpprof.Index))
	g.GET("/cmdline", gin.WrapF(hpprof.Cmdline))
	g.GET("/profile", gin.WrapF(hpprof.Profile))
	g.POST("/symbol", gin.WrapF(hpprof.Symbol))
	g.GET("/symbol", gin.WrapF(hpprof.Symbol))
	g.GET("/trace", gin.WrapF(hpprof.Trace))
	// Index serves named profiles by path suffix.
	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		g.GET("/"+name, gin.WrapF(hpprof.Index))
	}
}

// pprofAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func pprofAuth(token string) gin.HandlerFunc {
	tok := strings.TrimSpace(token)
	return func(c *gin.Context) {
		if tok == "" {
			c.Next()
			return
		}
		if got := c.Query("token"); got != "" {
			if got == tok {
				c.Next()
				return
			}
		} else if ah := c.GetHeader("Authorization"); strings.HasPrefix(ah, "Bearer ") &&
			strings.TrimSpace(strings.TrimPrefix(ah, "Bearer ")) == tok {
			c.Next()
			return
		}
		c.Header("WWW-Authenticate", "Bearer")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
