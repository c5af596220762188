package httpapi

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterConfig struct {
	Handlers    *Handlers
	CORSOrigins []string
	HealthPath  string
	MetricsPath string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if len(cfg.CORSOrigins) == 1 && cfg.CORSOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.CORSOrigins
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	r.Use(cors.New(corsCfg))

	healthPath := cfg.HealthPath
	if healthPath == "" {
		healthPath = "/healthz"
	}
	metricsPath := cfg.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.GET(healthPath, func(c *gin.Context) {
		c.String(200, "ok")
	})
	r.GET(metricsPath, gin.WrapH(promhttp.Handler()))

	h := cfg.Handlers
	api := r.Group("/api")
	{
		api.POST("/register", h.Register)
		api.POST("/login", h.Login)
	}

	protected := api.Group("/")
	protected.Use(h.RequireAuth())
	{
		protected.POST("/logout", h.Logout)
		protected.GET("/me", h.Me)
		protected.GET("/models", h.Models)

		protected.GET("/chats", h.ListChats)
		protected.POST("/chats", h.CreateChat)
		protected.POST("/chats/:id/select", h.SelectChat)
		protected.PATCH("/chats/:id", h.RenameChat)
		protected.DELETE("/chats/:id", h.DeleteChat)
		protected.GET("/chats/:id/messages", h.History)
		protected.POST("/chats/:id/messages", h.SendMessage)

		protected.POST("/generate", h.Generate)
		protected.POST("/embeddings", h.Embeddings)
		protected.GET("/audit", h.AuditTrail)
	}

	return r
}
