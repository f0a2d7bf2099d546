package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/handler"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository/memstore"
	"github.com/stemsi/exstem-session/internal/scoring"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/validator"
)

const email = "siswa@example.com"

var now = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	validator.Setup()
	os.Exit(m.Run())
}

type env struct {
	router *gin.Engine
	store  *memstore.Store
	svc    *service.ExamSessionService
	auth   *service.AuthService
	clock  time.Time
}

func newEnv(t *testing.T, withAuth bool, ratePerMinute int) *env {
	t.Helper()
	store := memstore.New()
	log := zerolog.Nop()

	svc := service.NewExamSessionService(store, store, scoring.NewEngine(model.ScoringPolicyExact), nil, nil,
		service.NewListingCache(8, time.Hour), log)
	e := &env{store: store, svc: svc, clock: now}
	svc.SetClock(func() time.Time { return e.clock })

	if withAuth {
		e.auth = service.NewAuthService("router-test-secret")
	}

	cfg := &config.Config{GinMode: gin.TestMode, RateLimitPerMinute: ratePerMinute}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	e.router = SetupRouter(ctx, e.auth, &Handlers{
		ExamSession: handler.NewExamSessionHandler(svc, log),
		WS:          handler.NewWSHandler(svc, time.Hour, log, nil),
		Health:      handler.NewHealthHandler(nil, nil, log),
	}, cfg)
	return e
}

func (e *env) addExam(t *testing.T, mods ...func(*model.Exam)) *model.Exam {
	t.Helper()
	maxRetake := 2
	exam := &model.Exam{
		CourseID:              "IF-101",
		Name:                  "Kuis",
		DurationMinutes:       30,
		MaxRetake:             &maxRetake,
		ShowAnswerAfterSubmit: true,
		Questions: []model.Question{
			{ID: "q1", Content: "1+1?", Type: model.QuestionTypeSingleChoice, Score: 2, Options: []model.Option{
				{ID: "a", Text: "2", IsCorrect: true},
				{ID: "b", Text: "3"},
			}},
			{ID: "q2", Content: "Genap?", Type: model.QuestionTypeMultipleChoice, Options: []model.Option{
				{ID: "a", Text: "2", IsCorrect: true},
				{ID: "b", Text: "4", IsCorrect: true},
				{ID: "c", Text: "5"},
			}},
		},
	}
	for _, m := range mods {
		m(exam)
	}
	if err := e.store.Create(context.Background(), exam); err != nil {
		t.Fatalf("create exam: %v", err)
	}
	return exam
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
	Metadata struct {
		RequestID string `json:"request_id"`
		Timestamp string `json:"timestamp"`
	} `json:"metadata"`
}

func (e *env) do(t *testing.T, method, path string, body any, header http.Header) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
	}
	return w.Code, env
}

func wantError(t *testing.T, status int, env envelope, wantStatus int, wantCode string) {
	t.Helper()
	if status != wantStatus {
		t.Errorf("status = %d, want %d", status, wantStatus)
	}
	if env.Error == nil {
		t.Fatalf("no error body, want %s", wantCode)
	}
	if env.Error.Code != wantCode {
		t.Errorf("error code = %s, want %s", env.Error.Code, wantCode)
	}
	if env.Error.Message == "" {
		t.Error("error message is empty")
	}
}

func sessionPath(examID uuid.UUID, op string) string {
	return "/api/exam-session/" + examID.String() + "/" + op
}

// ─── Session lifecycle ──────────────────────────────────────────────

func TestExamSessionFlow(t *testing.T) {
	e := newEnv(t, false, 1000)
	exam := e.addExam(t)

	status, env := e.do(t, http.MethodPost, sessionPath(exam.ID, "start"), map[string]string{"userEmail": email}, nil)
	if status != http.StatusOK || env.Error != nil {
		t.Fatalf("start: status %d error %+v", status, env.Error)
	}
	if env.Metadata.RequestID == "" || env.Metadata.Timestamp == "" {
		t.Errorf("metadata = %+v", env.Metadata)
	}
	if bytes.Contains(env.Data, []byte("isCorrect")) {
		t.Errorf("start payload leaks correctness: %s", env.Data)
	}
	var started struct {
		SessionID uuid.UUID `json:"sessionId"`
		Duration  int       `json:"duration"`
		ExamData  struct {
			Questions []struct {
				ID string `json:"id"`
			} `json:"questions"`
		} `json:"examData"`
	}
	if err := json.Unmarshal(env.Data, &started); err != nil {
		t.Fatalf("decode start: %v", err)
	}
	if started.SessionID == uuid.Nil || started.Duration != 30 || len(started.ExamData.Questions) != 2 {
		t.Errorf("start data = %+v", started)
	}

	status, env = e.do(t, http.MethodPost, sessionPath(exam.ID, "start"), map[string]string{"userEmail": email}, nil)
	wantError(t, status, env, http.StatusBadRequest, "SESSION_ALREADY_ACTIVE")
	if env.Error.Fields["sessionId"] != started.SessionID.String() {
		t.Errorf("active session field = %q", env.Error.Fields["sessionId"])
	}

	e.clock = now.Add(5 * time.Minute)
	status, env = e.do(t, http.MethodGet, sessionPath(exam.ID, "remaining-time")+"?userEmail="+email, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("remaining-time: status %d", status)
	}
	var rt service.RemainingTime
	if err := json.Unmarshal(env.Data, &rt); err != nil {
		t.Fatalf("decode remaining: %v", err)
	}
	if rt.RemainingTime != (25*time.Minute).Milliseconds() || rt.Formatted != "00:25:00" {
		t.Errorf("remaining = %+v", rt)
	}

	status, env = e.do(t, http.MethodGet, sessionPath(exam.ID, "paper")+"?userEmail="+email, nil, nil)
	if status != http.StatusOK || !bytes.Contains(env.Data, []byte(started.SessionID.String())) {
		t.Errorf("paper: status %d data %s", status, env.Data)
	}

	submit := map[string]any{
		"userEmail": email,
		"sessionId": started.SessionID,
		"answers":   map[string]any{"q1": "a", "q2": []string{"b", "a"}},
	}
	status, env = e.do(t, http.MethodPost, sessionPath(exam.ID, "submit"), submit, nil)
	if status != http.StatusOK {
		t.Fatalf("submit: status %d error %+v", status, env.Error)
	}
	var graded service.SubmitResult
	if err := json.Unmarshal(env.Data, &graded); err != nil {
		t.Fatalf("decode submit: %v", err)
	}
	if graded.Score != 3 || graded.TotalScore != 3 || graded.Status != model.SessionStatusCompleted || len(graded.Details) != 2 {
		t.Errorf("graded = %+v", graded)
	}

	status, env = e.do(t, http.MethodPost, sessionPath(exam.ID, "submit"), submit, nil)
	wantError(t, status, env, http.StatusBadRequest, "ALREADY_SUBMITTED")

	status, env = e.do(t, http.MethodGet, sessionPath(exam.ID, "attempts")+"?userEmail="+email, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("attempts: status %d", status)
	}
	var attempts service.AttemptSummary
	if err := json.Unmarshal(env.Data, &attempts); err != nil {
		t.Fatalf("decode attempts: %v", err)
	}
	if attempts.AttemptsUsed != 1 || attempts.RemainingAttempts == nil || *attempts.RemainingAttempts != 1 {
		t.Errorf("attempts = %+v", attempts)
	}

	status, env = e.do(t, http.MethodGet, sessionPath(exam.ID, "result")+"?userEmail="+email+"&sessionId="+started.SessionID.String(), nil, nil)
	if status != http.StatusOK {
		t.Fatalf("result: status %d error %+v", status, env.Error)
	}
	var stored service.ResultView
	if err := json.Unmarshal(env.Data, &stored); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if stored.ID != graded.ResultID || stored.Score != 3 || stored.Status != model.SessionStatusCompleted || len(stored.Details) != 2 {
		t.Errorf("stored result = %+v", stored)
	}
}

func TestResultEndpoint(t *testing.T) {
	e := newEnv(t, false, 1000)
	exam := e.addExam(t, func(x *model.Exam) { x.ShowAnswerAfterSubmit = false })
	path := sessionPath(exam.ID, "result") + "?userEmail=" + email

	status, env := e.do(t, http.MethodGet, path, nil, nil)
	wantError(t, status, env, http.StatusNotFound, "SESSION_NOT_FOUND")

	start := map[string]string{"userEmail": email}
	if status, env := e.do(t, http.MethodPost, sessionPath(exam.ID, "start"), start, nil); status != http.StatusOK {
		t.Fatalf("start: %d %+v", status, env.Error)
	}
	status, env = e.do(t, http.MethodGet, path, nil, nil)
	wantError(t, status, env, http.StatusNotFound, "RESULT_NOT_FOUND")

	submit := map[string]any{"userEmail": email, "answers": map[string]any{"q1": "a"}}
	if status, env := e.do(t, http.MethodPost, sessionPath(exam.ID, "submit"), submit, nil); status != http.StatusOK {
		t.Fatalf("submit: %d %+v", status, env.Error)
	}
	status, env = e.do(t, http.MethodGet, path, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("result: status %d error %+v", status, env.Error)
	}
	if bytes.Contains(env.Data, []byte("isCorrect")) || bytes.Contains(env.Data, []byte("correctOptionIds")) {
		t.Errorf("result leaks answers: %s", env.Data)
	}
	var stored service.ResultView
	if err := json.Unmarshal(env.Data, &stored); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if stored.Score != 2 || stored.ShowAnswerAfterSubmit {
		t.Errorf("stored result = %+v", stored)
	}

	status, env = e.do(t, http.MethodGet, path+"&sessionId=nope", nil, nil)
	wantError(t, status, env, http.StatusBadRequest, "VALIDATION_ERROR")

	status, env = e.do(t, http.MethodGet, path+"&sessionId="+uuid.NewString(), nil, nil)
	wantError(t, status, env, http.StatusNotFound, "SESSION_NOT_FOUND")
}

func TestStart_QuotaAndWindowErrors(t *testing.T) {
	e := newEnv(t, false, 1000)
	start := map[string]string{"userEmail": email}

	t.Run("quota", func(t *testing.T) {
		exam := e.addExam(t)
		for i := 0; i < 2; i++ {
			if status, env := e.do(t, http.MethodPost, sessionPath(exam.ID, "start"), start, nil); status != http.StatusOK {
				t.Fatalf("start #%d: %d %+v", i+1, status, env.Error)
			}
			if status, env := e.do(t, http.MethodPost, sessionPath(exam.ID, "submit"), start, nil); status != http.StatusOK {
				t.Fatalf("submit #%d: %d %+v", i+1, status, env.Error)
			}
		}
		status, env := e.do(t, http.MethodPost, sessionPath(exam.ID, "start"), start, nil)
		wantError(t, status, env, http.StatusBadRequest, "ATTEMPT_QUOTA_EXCEEDED")
		if env.Error.Fields["attempts"] != "2" || env.Error.Fields["maxRetake"] != "2" {
			t.Errorf("fields = %v", env.Error.Fields)
		}
	})

	t.Run("not opened", func(t *testing.T) {
		open, closeAt := now.Add(time.Hour), now.Add(2*time.Hour)
		exam := e.addExam(t, func(x *model.Exam) { x.OpenTime, x.CloseTime = &open, &closeAt })
		status, env := e.do(t, http.MethodPost, sessionPath(exam.ID, "start"), start, nil)
		wantError(t, status, env, http.StatusBadRequest, "EXAM_NOT_OPENED")
		if !strings.Contains(env.Error.Message, "01:00:00") {
			t.Errorf("message = %q, want the countdown", env.Error.Message)
		}
	})

	t.Run("closed", func(t *testing.T) {
		open, closeAt := now.Add(-2*time.Hour), now.Add(-time.Hour)
		exam := e.addExam(t, func(x *model.Exam) { x.OpenTime, x.CloseTime = &open, &closeAt })
		status, env := e.do(t, http.MethodPost, sessionPath(exam.ID, "start"), start, nil)
		wantError(t, status, env, http.StatusBadRequest, "EXAM_CLOSED")
	})

	t.Run("no questions", func(t *testing.T) {
		exam := e.addExam(t, func(x *model.Exam) { x.Questions = nil })
		status, env := e.do(t, http.MethodPost, sessionPath(exam.ID, "start"), start, nil)
		wantError(t, status, env, http.StatusBadRequest, "INVALID_EXAM")
	})
}

func TestRequestValidation(t *testing.T) {
	e := newEnv(t, false, 1000)
	exam := e.addExam(t)

	tests := []struct {
		name     string
		method   string
		path     string
		body     any
		wantCode string
		wantHTTP int
		field    string
	}{
		{"bad exam id", http.MethodGet, "/api/exam-session/not-a-uuid/status", nil, "INVALID_ID", http.StatusBadRequest, ""},
		{"unknown exam", http.MethodGet, sessionPath(uuid.New(), "status"), nil, "EXAM_NOT_FOUND", http.StatusNotFound, ""},
		{"missing email", http.MethodPost, sessionPath(exam.ID, "start"), map[string]string{}, "VALIDATION_ERROR", http.StatusBadRequest, "userEmail"},
		{"malformed email", http.MethodGet, sessionPath(exam.ID, "can-take") + "?userEmail=nope", nil, "VALIDATION_ERROR", http.StatusBadRequest, "userEmail"},
		{"no running session", http.MethodGet, sessionPath(exam.ID, "paper") + "?userEmail=" + email, nil, "SESSION_NOT_FOUND", http.StatusNotFound, ""},
		{"remaining time without session", http.MethodGet, sessionPath(exam.ID, "remaining-time") + "?userEmail=" + email, nil, "NO_ACTIVE_SESSION", http.StatusBadRequest, "examId"},
		{"submit without session", http.MethodPost, sessionPath(exam.ID, "submit"), map[string]string{"userEmail": email}, "SESSION_NOT_FOUND", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := e.do(t, tt.method, tt.path, tt.body, nil)
			wantError(t, status, env, tt.wantHTTP, tt.wantCode)
			if tt.field != "" && env.Error.Fields[tt.field] == "" {
				t.Errorf("fields = %v, want an entry for %s", env.Error.Fields, tt.field)
			}
		})
	}
}

func TestStatusAndListing(t *testing.T) {
	e := newEnv(t, false, 1000)
	open, closeAt := now.Add(-time.Hour), now.Add(time.Hour)
	exam := e.addExam(t, func(x *model.Exam) { x.OpenTime, x.CloseTime = &open, &closeAt })
	upcomingOpen, upcomingClose := now.Add(time.Hour), now.Add(2*time.Hour)
	e.addExam(t, func(x *model.Exam) { x.OpenTime, x.CloseTime = &upcomingOpen, &upcomingClose })

	status, env := e.do(t, http.MethodGet, sessionPath(exam.ID, "status"), nil, nil)
	if status != http.StatusOK {
		t.Fatalf("status: %d", status)
	}
	var view service.StatusView
	if err := json.Unmarshal(env.Data, &view); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if view.Status != "OPEN" || !view.CanStart || view.TimeRemaining == nil || *view.TimeRemaining != time.Hour.Milliseconds() {
		t.Errorf("status view = %+v", view)
	}

	status, env = e.do(t, http.MethodGet, "/api/exam-session/available?userEmail="+email+"&courseId=IF-101", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("available: %d %+v", status, env.Error)
	}
	var list service.AvailableExams
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(list.AvailableExams) != 1 || len(list.UpcomingExams) != 1 || len(list.ClosedExams) != 0 || list.Stale {
		t.Errorf("listing = %d available, %d upcoming, %d closed, stale %v",
			len(list.AvailableExams), len(list.UpcomingExams), len(list.ClosedExams), list.Stale)
	}
}

// ─── Identity & rate limit ──────────────────────────────────────────

func TestIdentity(t *testing.T) {
	e := newEnv(t, true, 1000)
	exam := e.addExam(t)
	path := sessionPath(exam.ID, "can-take") + "?userEmail=" + email

	token, err := e.auth.IssueToken(email, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	other, err := e.auth.IssueToken("lain@example.com", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	bearer := func(tok string) http.Header { return http.Header{"Authorization": {"Bearer " + tok}} }

	status, env := e.do(t, http.MethodGet, path, nil, nil)
	wantError(t, status, env, http.StatusUnauthorized, "TOKEN_REQUIRED")

	status, env = e.do(t, http.MethodGet, path, nil, bearer("garbage"))
	wantError(t, status, env, http.StatusUnauthorized, "TOKEN_INVALID")

	status, env = e.do(t, http.MethodGet, path, nil, bearer(other))
	wantError(t, status, env, http.StatusForbidden, "IDENTITY_MISMATCH")

	status, env = e.do(t, http.MethodGet, path, nil, bearer(token))
	if status != http.StatusOK || env.Error != nil {
		t.Errorf("matching token: status %d error %+v", status, env.Error)
	}

	status, _ = e.do(t, http.MethodGet, path+"&token="+token, nil, nil)
	if status != http.StatusOK {
		t.Errorf("query token: status %d", status)
	}

	resultPath := sessionPath(exam.ID, "result") + "?userEmail=" + email
	status, env = e.do(t, http.MethodGet, resultPath, nil, bearer(other))
	wantError(t, status, env, http.StatusForbidden, "IDENTITY_MISMATCH")
}

func TestRateLimit(t *testing.T) {
	e := newEnv(t, false, 2)
	exam := e.addExam(t)
	path := sessionPath(exam.ID, "status")

	for i := 0; i < 2; i++ {
		if status, _ := e.do(t, http.MethodGet, path, nil, nil); status != http.StatusOK {
			t.Fatalf("request %d: status %d", i+1, status)
		}
	}
	status, env := e.do(t, http.MethodGet, path, nil, nil)
	wantError(t, status, env, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED")

	if status, _ := e.do(t, http.MethodGet, "/health", nil, nil); status != http.StatusOK {
		t.Errorf("health is rate limited: %d", status)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	e := newEnv(t, false, 1000)
	_, env := e.do(t, http.MethodGet, "/health", nil, http.Header{"X-Request-Id": {"trace-123"}})
	if env.Metadata.RequestID != "trace-123" {
		t.Errorf("request_id = %q, want trace-123", env.Metadata.RequestID)
	}
}

// ─── WebSocket stream ───────────────────────────────────────────────

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestExamSessionStream(t *testing.T) {
	e := newEnv(t, false, 1000)
	exam := e.addExam(t)

	srv := httptest.NewServer(e.router)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/exam-session/" + exam.ID.String() + "/stream?userEmail=" + email

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("stream opened without a running session")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("handshake response = %v, want 404", resp)
	}

	if status, env := e.do(t, http.MethodPost, sessionPath(exam.ID, "start"), map[string]string{"userEmail": email}, nil); status != http.StatusOK {
		t.Fatalf("start: %d %+v", status, env.Error)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if f := readFrame(t, conn); f.Event != "tick" {
		t.Fatalf("first frame = %s, want tick", f.Event)
	}

	if err := conn.WriteJSON(map[string]string{"action": "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if f := readFrame(t, conn); f.Event != "pong" {
		t.Fatalf("ping reply = %s, want pong", f.Event)
	}

	submit := map[string]any{"action": "submit", "answers": map[string]string{"q1": "a"}}
	if err := conn.WriteJSON(submit); err != nil {
		t.Fatalf("write submit: %v", err)
	}
	f := readFrame(t, conn)
	if f.Event != "graded" {
		t.Fatalf("submit reply = %s (%s), want graded", f.Event, f.Data)
	}
	var graded service.SubmitResult
	if err := json.Unmarshal(f.Data, &graded); err != nil {
		t.Fatalf("decode graded: %v", err)
	}
	if graded.Score != 2 || graded.Status != model.SessionStatusCompleted {
		t.Errorf("graded = %+v", graded)
	}
}
