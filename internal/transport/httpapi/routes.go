package httpapi

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"sebastian/internal/alarm"
	"sebastian/internal/commands"
	"sebastian/internal/icsexport"
	"sebastian/internal/metrics"
	logx "sebastian/pkg/logx"
)

func (s *Server) router(cfg Config, h *hub) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLog(s.log))

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
	if cfg.Metrics {
		r.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	if cfg.PProf.Enabled {
		if err := cfg.PProf.check(cfg.Addr); err != nil {
			s.log.Error("pprof not mounted", logx.String("addr", cfg.Addr), logx.Err(err))
		} else {
			mountPProf(r, cfg.PProf.Token)
		}
	}

	api := r.Group("/api")
	{
		api.GET("/alarms", s.listAlarms)
		api.POST("/alarms", s.createAlarm)
		api.PUT("/alarms/:id", s.updateAlarm)
		api.PATCH("/alarms/:id/title", s.updateTitle)
		api.DELETE("/alarms/:id", s.deleteAlarm)
		api.POST("/alarms/:id/ack", s.ackAlarm)
		api.POST("/alarms/import", s.importAlarms)
		api.GET("/events", h.serve)
		if cfg.ICS {
			api.GET("/alarms.ics", s.exportICS)
		}
	}
	return r
}

func requestLog(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("dur", time.Since(start)),
		)
	}
}

// reply writes the fresh list or {"error": "..."} with a status for the error code.
func reply(c *gin.Context, list []alarm.Alarm, err error) {
	if err != nil {
		c.JSON(statusFor(commands.CodeOf(err)), gin.H{"error": err.Error()})
		return
	}
	if list == nil {
		list = []alarm.Alarm{}
	}
	c.JSON(http.StatusOK, list)
}

func statusFor(code string) int {
	switch code {
	case commands.CodeInvalid, commands.CodeEmptyImport:
		return http.StatusBadRequest
	case commands.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
}

func (s *Server) listAlarms(c *gin.Context) {
	reply(c, s.cmds.List(c.Request.Context()), nil)
}

func (s *Server) createAlarm(c *gin.Context) {
	var p alarm.Payload
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	list, err := s.cmds.Create(c.Request.Context(), p)
	reply(c, list, err)
}

func (s *Server) updateAlarm(c *gin.Context) {
	var p alarm.Payload
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	list, err := s.cmds.Update(c.Request.Context(), c.Param("id"), p)
	reply(c, list, err)
}

func (s *Server) updateTitle(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	list, err := s.cmds.UpdateTitle(c.Request.Context(), c.Param("id"), req.Title)
	reply(c, list, err)
}

func (s *Server) deleteAlarm(c *gin.Context) {
	list, err := s.cmds.Delete(c.Request.Context(), c.Param("id"))
	reply(c, list, err)
}

func (s *Server) ackAlarm(c *gin.Context) {
	list, err := s.cmds.Acknowledge(c.Request.Context(), c.Param("id"))
	reply(c, list, err)
}

func (s *Server) importAlarms(c *gin.Context) {
	replace, _ := strconv.ParseBool(c.DefaultQuery("replace", "false"))
	raw, err := c.GetRawData()
	if err != nil {
		badRequest(c, err)
		return
	}
	list, err := s.cmds.ImportDocument(c.Request.Context(), raw, replace)
	reply(c, list, err)
}

func (s *Server) exportICS(c *gin.Context) {
	var buf bytes.Buffer
	if err := icsexport.Write(&buf, s.cmds.List(c.Request.Context()), s.cmds.Location(), time.Now()); err != nil {
		s.log.Warn("ics export failed", logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Calendar export failed."})
		return
	}
	c.Header("Content-Disposition", `inline; filename="alarms.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", buf.Bytes())
}
