package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusflow/internal/attendance"
	"campusflow/internal/auth"
	"campusflow/internal/dashboard"
	"campusflow/internal/notify"
	"campusflow/internal/queue"
	"campusflow/internal/realtime"
	"campusflow/internal/registration"
	"campusflow/internal/workflow"
)

const (
	testKey    = "api-test-key"
	testIssuer = "campusflow"
)

type fixture struct {
	router http.Handler
	hub    *realtime.Hub
	store  *workflow.MemoryStore
	dbUp   bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := workflow.NewMemoryStore()
	store.AddStudent(workflow.Student{ID: "s1", CollegeID: "c1", Department: "cse", MentorID: "f1"})
	store.AddStudent(workflow.Student{ID: "s2", CollegeID: "c1", Department: "cse", MentorID: "f2"})
	store.AddStudent(workflow.Student{ID: "x1", CollegeID: "c2", Department: "cse", MentorID: "f9"})

	att := attendance.NewService(attendance.NewMemoryStore())
	agg := dashboard.New(store, att, time.Minute, 16)
	hub := realtime.NewHub(realtime.NewRegistry())
	notifier := notify.New(hub, hub.Registry(), notify.NewMemoryDevices(), nil, time.Second)
	svc := workflow.NewService(store, workflow.WithStats(agg), workflow.WithPublisher(notifier))

	f := &fixture{hub: hub, store: store, dbUp: true}
	f.router = NewRouter(Deps{
		Workflow:        svc,
		Dashboard:       agg,
		Attendance:      att,
		Notifier:        notifier,
		Hub:             hub,
		Registration:    registration.NewIntake(queue.NewInMemory(8), 5, time.Second),
		SigningKey:      testKey,
		Issuer:          testIssuer,
		RateLimitPerMin: 10000,
		CORSOrigins:     []string{"*"},
		Checks: map[string]HealthCheck{
			"db": func(context.Context) bool { return f.dbUp },
		},
	})
	return f
}

func bearer(t *testing.T, userID, role string) string {
	t.Helper()
	return bearerIn(t, userID, role, "c1")
}

func bearerIn(t *testing.T, userID, role, collegeID string) string {
	t.Helper()
	pair, err := auth.Issue(auth.Identity{UserID: userID, Role: role, CollegeID: collegeID}, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)
	return pair.AccessToken
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	f.dbUp = false
	w = f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRegistrationAccepted(t *testing.T) {
	f := newFixture(t)
	body := map[string]string{"name": "Asha", "email": "asha@college.edu", "password": "long enough", "role": "student", "college_id": "c1"}

	w := f.do(t, http.MethodPost, "/v1/registrations", "", body)
	require.Equal(t, http.StatusAccepted, w.Code)
	got := decode[map[string]any](t, w)
	assert.Equal(t, "registration:asha@college.edu", got["job_id"])
	assert.Equal(t, true, got["accepted"])

	w = f.do(t, http.MethodPost, "/v1/registrations", "", body)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, false, decode[map[string]any](t, w)["accepted"])

	body["email"] = ""
	w = f.do(t, http.MethodPost, "/v1/registrations", "", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "email")
}

func TestAuthAndRoles(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/v1/achievements", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/v1/faculty/stats", bearer(t, "s1", "student"), nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/v1/departments/cse/performance", bearer(t, "f1", "faculty"), nil).Code)
}

func TestAchievementLifecycle(t *testing.T) {
	f := newFixture(t)
	student := bearer(t, "s1", "student")
	mentor := bearer(t, "f1", "faculty")

	w := f.do(t, http.MethodPost, "/v1/achievements", student, map[string]string{"type": "certificate", "title": "AWS"})
	require.Equal(t, http.StatusBadRequest, w.Code, "certificate requires an issuer")
	assert.Contains(t, w.Body.String(), "issuer")

	w = f.do(t, http.MethodPost, "/v1/achievements", student, map[string]string{"type": "certificate", "title": "AWS", "issuer": "Amazon"})
	require.Equal(t, http.StatusCreated, w.Code)
	item := decode[workflow.Item](t, w)

	decideBody := map[string]any{"ref": workflow.Ref{Type: workflow.Certificate, ID: item.ID}, "decision": "verified", "remarks": "ok"}

	w = f.do(t, http.MethodPost, "/v1/students/s1/achievements/decide", bearer(t, "f2", "faculty"), decideBody)
	assert.Equal(t, http.StatusNotFound, w.Code, "non-mentor sees not found")

	w = f.do(t, http.MethodPost, "/v1/students/s1/achievements/decide", mentor, decideBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	d := decode[workflow.Decision](t, w)
	assert.Equal(t, workflow.VerificationVerified, d.Item.Status())

	w = f.do(t, http.MethodPost, "/v1/students/s1/achievements/decide", mentor, decideBody)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodGet, "/v1/achievements", student, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"verified"`)

	w = f.do(t, http.MethodGet, "/v1/faculty/stats", mentor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[workflow.FacultyStats](t, w)
	assert.Equal(t, 1, st.Counters[workflow.ApprovedCertificates])

	w = f.do(t, http.MethodGet, "/v1/faculty/approvals/recent?limit=5", mentor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[map[string][]workflow.LedgerEntry](t, w)["approvals"], 1)
}

func TestBulkDecidePartial(t *testing.T) {
	f := newFixture(t)
	student := bearer(t, "s1", "student")
	var refs []workflow.Ref
	for _, title := range []string{"A", "B"} {
		w := f.do(t, http.MethodPost, "/v1/achievements", student, map[string]string{"type": "project", "title": title, "description": "d"})
		require.Equal(t, http.StatusCreated, w.Code)
		refs = append(refs, workflow.Ref{Type: workflow.Project, ID: decode[workflow.Item](t, w).ID})
	}
	refs = append(refs, workflow.Ref{Type: workflow.Project, ID: "missing"})

	w := f.do(t, http.MethodPost, "/v1/students/s1/achievements/bulk-decide", bearer(t, "f1", "faculty"),
		map[string]any{"refs": refs, "decision": "rejected"})
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[workflow.BulkResult](t, w)
	assert.Equal(t, 3, res.Requested)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Skipped)
}

func TestLeaveFlow(t *testing.T) {
	f := newFixture(t)
	start := time.Now().UTC().Add(48 * time.Hour)
	w := f.do(t, http.MethodPost, "/v1/leave-requests", bearer(t, "s1", "student"), map[string]any{
		"start_date": start, "end_date": start.Add(48 * time.Hour), "reason": "family event",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	lr := decode[workflow.LeaveRequest](t, w)
	assert.Equal(t, 3, lr.TotalDays)

	path := "/v1/students/s1/leave-requests/" + lr.ID + "/decide"
	w = f.do(t, http.MethodPost, path, bearer(t, "f1", "faculty"), map[string]string{"decision": "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, path, bearer(t, "f1", "faculty"), map[string]string{"decision": "approved"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, workflow.StatusApproved, decode[workflow.LeaveRequest](t, w).Status)

	w = f.do(t, http.MethodPost, path, bearer(t, "f1", "faculty"), map[string]string{"decision": "rejected"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStatsEndpoints(t *testing.T) {
	f := newFixture(t)
	mentor := bearer(t, "f1", "faculty")
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	for i, present := range []bool{true, true, false, true} {
		w := f.do(t, http.MethodPost, "/v1/students/s1/attendance", mentor, map[string]any{"date": day.AddDate(0, 0, i), "present": present})
		require.Equal(t, http.StatusNoContent, w.Code)
	}

	w := f.do(t, http.MethodPost, "/v1/students/s1/attendance", bearer(t, "f2", "faculty"), map[string]any{"date": day, "present": false})
	assert.Equal(t, http.StatusNotFound, w.Code, "only the mentor marks attendance")
	w = f.do(t, http.MethodPost, "/v1/students/x1/attendance", mentor, map[string]any{"date": day, "present": true})
	assert.Equal(t, http.StatusNotFound, w.Code)

	type history struct {
		StudentID string              `json:"student_id"`
		Records   []attendance.Record `json:"records"`
	}
	w = f.do(t, http.MethodGet, "/v1/students/s1/attendance?from=2025-03-10&to=2025-03-12", mentor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[history](t, w).Records, 3)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/students/s1/attendance", bearer(t, "f2", "faculty"), nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/students/s1/attendance?from=March", mentor, nil).Code)

	w = f.do(t, http.MethodGet, "/v1/me/attendance?from=2025-03-01&to=2025-03-31", bearer(t, "s1", "student"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	own := decode[history](t, w)
	assert.Equal(t, "s1", own.StudentID)
	assert.Len(t, own.Records, 4)

	w = f.do(t, http.MethodGet, "/v1/me/stats", bearer(t, "s1", "student"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 75, decode[dashboard.StudentStats](t, w).Attendance.Percent)

	w = f.do(t, http.MethodGet, "/v1/departments/cse/performance", bearer(t, "h1", "hod"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	rep := decode[dashboard.DepartmentReport](t, w)
	assert.Equal(t, 2, rep.Students, "x1 shares the department name in another college")
	assert.Equal(t, 75, rep.AttendancePercent)

	w = f.do(t, http.MethodGet, "/v1/departments/cse/performance", bearerIn(t, "h2", "hod", "c2"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[dashboard.DepartmentReport](t, w).Students)
}

func TestAnnouncementFanOut(t *testing.T) {
	f := newFixture(t)
	s := realtime.NewClient(f.hub, nil, "s1", "student", "c1")
	fac := realtime.NewClient(f.hub, nil, "f1", "faculty", "c1")
	other := realtime.NewClient(f.hub, nil, "x1", "student", "c2")
	f.hub.Attach(s)
	f.hub.Attach(fac)
	f.hub.Attach(other)

	w := f.do(t, http.MethodPost, "/v1/announcements", bearer(t, "a1", "admin"), map[string]any{"audience": "both", "title": "Holiday"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode[map[string]int](t, w)["delivered"])
	assert.Equal(t, EventAnnouncement, (<-s.Frames()).Event)
	assert.Empty(t, other.Frames(), "announcements stay within the caller's college")

	w = f.do(t, http.MethodPost, "/v1/announcements", bearer(t, "a1", "admin"), map[string]any{"audience": "janitor", "title": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/v1/announcements", bearer(t, "h1", "hod"), map[string]any{"college_only": true, "title": "Fest"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode[map[string]int](t, w)["delivered"])
}

func TestDevices(t *testing.T) {
	f := newFixture(t)
	tok := bearer(t, "s1", "student")

	w := f.do(t, http.MethodPost, "/v1/devices", tok, map[string]string{"device_id": "phone"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "token required")

	w = f.do(t, http.MethodPost, "/v1/devices", tok, map[string]string{"device_id": "phone", "token": "fcm-1", "platform": "android"})
	require.Equal(t, http.StatusCreated, w.Code)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/v1/devices/phone", tok, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/v1/devices/phone", tok, nil).Code)

	w = f.do(t, http.MethodDelete, "/v1/devices", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode[map[string]int](t, w)["removed"])
}

func TestWebsocketReceivesDecision(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws?token=" + bearer(t, "s1", "student")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.hub.Registry().IsConnected("s1") }, time.Second, 5*time.Millisecond)

	w := f.do(t, http.MethodPost, "/v1/achievements", bearer(t, "s1", "student"), map[string]string{"type": "club", "title": "Chess", "role": "Captain"})
	require.Equal(t, http.StatusCreated, w.Code)
	item := decode[workflow.Item](t, w)
	w = f.do(t, http.MethodPost, "/v1/students/s1/achievements/decide", bearer(t, "f1", "faculty"),
		map[string]any{"ref": workflow.Ref{Type: workflow.Club, ID: item.ID}, "decision": "verified"})
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	seen := map[string]bool{}
	for len(seen) < 2 {
		var frame realtime.Frame
		require.NoError(t, conn.ReadJSON(&frame))
		seen[frame.Event] = true
	}
	assert.True(t, seen[workflow.EventDashboardCounts])
	assert.True(t, seen[workflow.EventAchievementDecided])
}
