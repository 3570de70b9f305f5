package api

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"sysproxy/backend/domain"
	"sysproxy/backend/service"
)

type Router struct {
	service *service.Facade
}

// NewRouter builds the control API. Cross-origin requests are refused unless
// their Origin is listed in server.allowOrigins.
func NewRouter(svc *service.Facade) *gin.Engine {
	r := &Router{service: svc}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware(svc.Config().Server.AllowOrigins))
	r.register(engine)
	return engine
}

func corsMiddleware(allowOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowOrigins))
	for _, o := range allowOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			allowed[o] = struct{}{}
		}
	}
	return func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			if _, ok := allowed[origin]; !ok {
				log.Printf("[API] rejected %s %s from origin %q", c.Request.Method, c.Request.URL.Path, origin)
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
				return
			}
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requireJSON 只接受 application/json 请求体
func requireJSON() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.ContentType() != gin.MIMEJSON {
			c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, gin.H{"error": "content type must be " + gin.MIMEJSON})
			return
		}
		c.Next()
	}
}

func (r *Router) register(engine *gin.Engine) {
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now(),
			"platform":  r.service.Platform(),
			"platforms": r.service.Platforms(),
		})
	})

	sp := engine.Group("/system-proxy")
	{
		sp.GET("/exclusions", r.getExclusions)
		sp.POST("", requireJSON(), r.enableSystemProxy)
		sp.DELETE("", r.disableSystemProxy)
	}

	al := engine.Group("/allowlist")
	{
		al.GET("", r.getAllowlist)
		al.POST("/refresh", r.refreshAllowlist)
	}

	engine.GET("/app/logs", r.getAppLogs)
}

type enableRequest struct {
	IP       string `json:"ip" binding:"required"`
	Port     int    `json:"port" binding:"required"`
	SyncEnv  bool   `json:"syncEnv"`
	Platform string `json:"platform,omitempty"`
}

func (r *Router) enableSystemProxy(c *gin.Context) {
	var req enableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := r.service.Enable(c.Request.Context(), req.Platform, req.IP, req.Port, req.SyncEnv)
	r.writeToggle(c, res, err)
}

func (r *Router) disableSystemProxy(c *gin.Context) {
	res, err := r.service.Disable(c.Request.Context(), c.Query("platform"))
	r.writeToggle(c, res, err)
}

func (r *Router) writeToggle(c *gin.Context, res domain.ToggleResult, err error) {
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "result": res})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (r *Router) getExclusions(c *gin.Context) {
	set, err := r.service.Exclusions(c.Query("platform"))
	if err != nil {
		r.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"hosts":     set.Hosts,
		"separator": set.Separator,
		"value":     set.String(),
		"count":     set.Len(),
	})
}

func (r *Router) getAllowlist(c *gin.Context) {
	st, err := r.service.AllowlistStatus()
	if err != nil {
		r.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (r *Router) refreshAllowlist(c *gin.Context) {
	if err := r.service.RefreshAllowlist(c.Request.Context()); err != nil {
		r.handleError(c, err)
		return
	}
	r.getAllowlist(c)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (r *Router) handleError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrToggle), errors.Is(err, domain.ErrFetch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
