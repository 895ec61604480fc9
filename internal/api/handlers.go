package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"campusflow/internal/auth"
	"campusflow/internal/logging"
	"campusflow/internal/notify"
	"campusflow/internal/realtime"
	"campusflow/internal/registration"
	"campusflow/internal/roles"
	"campusflow/internal/workflow"
)

// EventAnnouncement is emitted for HOD and admin announcements.
const EventAnnouncement = "announcement"

func caller(c *gin.Context) auth.Identity {
	claims, _ := auth.ClaimsFrom(c)
	return claims.Identity()
}

func (s *server) register(c *gin.Context) {
	var p registration.Payload
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	jobID, accepted, err := s.Registration.Submit(c.Request.Context(), p)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "accepted": accepted})
}

func (s *server) websocket(c *gin.Context) {
	id := caller(c)
	if err := s.Hub.Serve(c.Writer, c.Request, id.UserID, id.Role, id.CollegeID); err != nil {
		logging.Warn().Err(err).Str("user_id", id.UserID).Msg("websocket upgrade failed")
	}
}

func (s *server) registerDevice(c *gin.Context) {
	var d notify.Device
	if err := c.ShouldBindJSON(&d); err != nil {
		badRequest(c, err)
		return
	}
	d.UserID = caller(c).UserID
	if err := s.Notifier.RegisterDevice(c.Request.Context(), d); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"device_id": d.DeviceID})
}

func (s *server) removeDevice(c *gin.Context) {
	ok, err := s.Notifier.RemoveDevice(c.Request.Context(), caller(c).UserID, c.Param("deviceID"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) removeAllDevices(c *gin.Context) {
	n, err := s.Notifier.RemoveAllDevices(c.Request.Context(), caller(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": n})
}

func (s *server) submitAchievement(c *gin.Context) {
	var sub workflow.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		badRequest(c, err)
		return
	}
	item, err := s.Workflow.Submit(c.Request.Context(), caller(c).UserID, sub)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (s *server) listOwnAchievements(c *gin.Context) {
	items, err := s.Workflow.Items(c.Request.Context(), caller(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *server) submitLeave(c *gin.Context) {
	var sub workflow.LeaveSubmission
	if err := c.ShouldBindJSON(&sub); err != nil {
		badRequest(c, err)
		return
	}
	lr, err := s.Workflow.SubmitLeave(c.Request.Context(), caller(c).UserID, sub)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, lr)
}

func (s *server) studentStats(c *gin.Context) {
	st, err := s.Dashboard.StudentStats(c.Request.Context(), caller(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type decideRequest struct {
	Ref      workflow.Ref                `json:"ref"`
	Refs     []workflow.Ref              `json:"refs"`
	Decision workflow.VerificationStatus `json:"decision"`
	Remarks  string                      `json:"remarks"`
}

func (s *server) decide(c *gin.Context) {
	var req decideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	d, err := s.Workflow.Decide(c.Request.Context(), caller(c).UserID, c.Param("studentID"), req.Ref, req.Decision, req.Remarks)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *server) bulkDecide(c *gin.Context) {
	var req decideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.Workflow.BulkDecide(c.Request.Context(), caller(c).UserID, c.Param("studentID"), req.Refs, req.Decision, req.Remarks)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *server) decideLeave(c *gin.Context) {
	var req struct {
		Decision workflow.ApprovalStatus `json:"decision"`
		Remarks  string                  `json:"remarks"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	lr, err := s.Workflow.DecideLeaveRequest(c.Request.Context(), caller(c).UserID, c.Param("studentID"), c.Param("leaveID"), req.Decision, req.Remarks)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, lr)
}

func (s *server) backfill(c *gin.Context) {
	n, err := s.Workflow.Backfill(c.Request.Context(), c.Param("studentID"), caller(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

func (s *server) markAttendance(c *gin.Context) {
	var req struct {
		Date    time.Time `json:"date"`
		Present bool      `json:"present"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Date.IsZero() {
		req.Date = time.Now().UTC()
	}
	if err := s.Workflow.AuthorizeMentor(c.Request.Context(), caller(c).UserID, c.Param("studentID")); err != nil {
		writeError(c, err)
		return
	}
	if err := s.Attendance.Mark(c.Request.Context(), c.Param("studentID"), req.Date, req.Present, caller(c).UserID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) studentAttendance(c *gin.Context) {
	id := caller(c)
	studentID := c.Param("studentID")
	if studentID == "" {
		studentID = id.UserID
	} else if err := s.Workflow.AuthorizeMentor(c.Request.Context(), id.UserID, studentID); err != nil {
		writeError(c, err)
		return
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)
	for name, dst := range map[string]*time.Time{"from": &from, "to": &to} {
		v := c.Query(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			writeError(c, &workflow.ValidationError{Fields: []workflow.FieldError{{Field: name, Error: "must be YYYY-MM-DD"}}})
			return
		}
		*dst = t
	}
	if to.Before(from) {
		writeError(c, &workflow.ValidationError{Fields: []workflow.FieldError{{Field: "to", Error: "must not be before from"}}})
		return
	}

	records, err := s.Attendance.History(c.Request.Context(), studentID, from, to)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"student_id": studentID, "records": records})
}

func (s *server) facultyStats(c *gin.Context) {
	st, err := s.Dashboard.FacultyStats(c.Request.Context(), caller(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *server) recentApprovals(c *gin.Context) {
	n := 10
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			n = min(parsed, 100)
		}
	}
	entries, err := s.Workflow.RecentApprovals(c.Request.Context(), caller(c).UserID, n)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"approvals": entries})
}

func (s *server) departmentPerformance(c *gin.Context) {
	rep, err := s.Dashboard.DepartmentPerformance(c.Request.Context(), caller(c).CollegeID, c.Param("department"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *server) announce(c *gin.Context) {
	var req struct {
		Audience    string `json:"audience"`
		Title       string `json:"title"`
		Message     string `json:"message"`
		CollegeOnly bool   `json:"college_only"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(c, &workflow.ValidationError{Fields: []workflow.FieldError{{Field: "title", Error: "failed required"}}})
		return
	}
	id := caller(c)
	payload := gin.H{"title": req.Title, "message": req.Message, "from": id.UserID}

	if req.CollegeOnly {
		n := s.Notifier.EmitToRoom(realtime.CollegeRoom(id.CollegeID), EventAnnouncement, payload)
		c.JSON(http.StatusOK, gin.H{"delivered": n})
		return
	}
	audience, err := roles.ParseAudience(req.Audience)
	if err != nil {
		writeError(c, &workflow.ValidationError{Fields: []workflow.FieldError{{Field: "audience", Error: err.Error()}}})
		return
	}
	// Callers without a college are platform accounts and reach every tenant.
	var n int
	if id.CollegeID != "" {
		n = s.Notifier.EmitToCollegeAudience(id.CollegeID, audience, EventAnnouncement, payload)
	} else {
		n = s.Notifier.EmitToAudience(audience, EventAnnouncement, payload)
	}
	c.JSON(http.StatusOK, gin.H{"delivered": n})
}
