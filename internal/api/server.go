// Package api exposes the workflow, dashboard, realtime and registration services over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"campusflow/internal/attendance"
	"campusflow/internal/auth"
	"campusflow/internal/dashboard"
	"campusflow/internal/httpmiddleware"
	"campusflow/internal/notify"
	"campusflow/internal/realtime"
	"campusflow/internal/registration"
	"campusflow/internal/roles"
	"campusflow/internal/workflow"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps are the services the routes delegate to.
type Deps struct {
	Workflow     *workflow.Service
	Dashboard    *dashboard.Aggregator
	Attendance   *attendance.Service
	Notifier     *notify.Notifier
	Hub          *realtime.Hub
	Registration *registration.Intake

	SigningKey string
	Issuer     string

	RateLimitPerMin int
	CORSOrigins     []string
	Checks          map[string]HealthCheck
}

type server struct {
	Deps
}

// NewRouter builds the gin engine with middleware and every route mounted.
func NewRouter(d Deps) *gin.Engine {
	s := &server{Deps: d}

	r := gin.New()
	r.Use(httpmiddleware.RequestID())
	r.Use(httpmiddleware.Recovery())
	r.Use(httpmiddleware.Logger())
	r.Use(httpmiddleware.CORS(d.CORSOrigins))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.NewRateLimiter(d.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", s.health)

	v1 := r.Group("/v1")
	v1.POST("/registrations", s.register)

	authed := v1.Group("", auth.Authenticate(d.SigningKey, d.Issuer))
	authed.GET("/ws", s.websocket)
	authed.POST("/devices", s.registerDevice)
	authed.DELETE("/devices/:deviceID", s.removeDevice)
	authed.DELETE("/devices", s.removeAllDevices)

	student := authed.Group("", auth.RequireRole(roles.Student))
	student.POST("/achievements", s.submitAchievement)
	student.GET("/achievements", s.listOwnAchievements)
	student.POST("/leave-requests", s.submitLeave)
	student.GET("/me/stats", s.studentStats)
	student.GET("/me/attendance", s.studentAttendance)

	faculty := authed.Group("", auth.RequireRole(roles.Faculty))
	faculty.POST("/students/:studentID/achievements/decide", s.decide)
	faculty.POST("/students/:studentID/achievements/bulk-decide", s.bulkDecide)
	faculty.POST("/students/:studentID/leave-requests/:leaveID/decide", s.decideLeave)
	faculty.POST("/students/:studentID/backfill", s.backfill)
	faculty.POST("/students/:studentID/attendance", s.markAttendance)
	faculty.GET("/students/:studentID/attendance", s.studentAttendance)
	faculty.GET("/faculty/stats", s.facultyStats)
	faculty.GET("/faculty/approvals/recent", s.recentApprovals)

	leaders := authed.Group("", auth.RequireRole(roles.HOD, roles.Admin))
	leaders.GET("/departments/:department/performance", s.departmentPerformance)
	leaders.POST("/announcements", s.announce)

	return r
}

func (s *server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range s.Checks {
		ok := check(ctx)
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	if s.Hub != nil {
		body["realtime"] = s.Hub.Registry().Stats()
	}
	c.JSON(status, body)
}
