package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"heartmend/internal/config"
	"heartmend/internal/db"
	"heartmend/internal/engine"
	"heartmend/internal/migrate"
	"heartmend/internal/plan"
	"heartmend/internal/provider"
)

const testSecret = "test-secret"

// streamStub answers every generation with the same canned plan and every
// chat stream with the same canned chunks.
type streamStub struct {
	output string
	chunks []string
}

func (p *streamStub) Name() string { return "stub" }

func (p *streamStub) Invoke(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error) {
	return p.output, nil
}

func (p *streamStub) Stream(ctx context.Context, messages []provider.Message, temperature float64, onChunk func(string)) error {
	for _, c := range p.chunks {
		onChunk(c)
	}
	return nil
}

func stubPlanJSON(t *testing.T) string {
	t.Helper()
	step := plan.OutlineStep{Step: "开场承认", Content: "先承认错误并表达真诚的歉意"}
	reply := plan.PossibleReply{
		FromPartner:  "她可能会保持沉默不回复消息",
		MyResponse:   "我理解你现在不想说话，我会给你空间，等你愿意的时候我随时都在",
		WhyThisWorks: "尊重对方的情绪节奏而不施压",
		Tone:         "giving-space",
	}
	p := plan.RepairPlan{
		ApologySMS: plan.ApologySMS{
			Short:  strings.Repeat("真的对不起", 3),
			Medium: strings.Repeat("我知道我错了，真的很抱歉。", 3),
			Long:   strings.Repeat("我想认真地向你道歉，这件事是我的错。", 6),
		},
		CallOutline:   []plan.OutlineStep{step, step, step},
		MeetOutline:   []plan.OutlineStep{step, step, step},
		ActionPlan7d:  []string{"每天主动发一条真诚的问候消息", "把纪念日写进手机日历并设提醒", "本周安排一次她喜欢的晚餐"},
		ActionPlan30d: []string{"每周留出固定的二人时间不受打扰", "重要日期提前一周准备惊喜", "每月复盘一次我们的相处模式"},
		PossibleReplies: []plan.PossibleReply{reply, {
			FromPartner:  "她可能会生气地质问我为什么总是这样",
			MyResponse:   "你说得对，我之前确实忽略了你的感受，我没有任何借口",
			WhyThisWorks: "不辩解直接承认错误能降低对抗",
			Tone:         "apologetic",
		}},
		RedFlagsAvoid:         []string{"不要说你太敏感了这种否认感受的话"},
		OneSentenceBottomLine: "我会用持续的行动而不是语言来证明我是真的在乎你",
	}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal plan: %v", err)
	}
	return string(data)
}

func caseBody() map[string]any {
	return map[string]any{
		"conflict_type":      "forget_important",
		"conflict_date":      "2026-08-20T10:00:00Z",
		"relationship_stage": "dating",
		"what_i_did":         "我忘记了我们的周年纪念日，之后也没有第一时间道歉",
		"partner_feelings":   "她觉得我根本不在乎这段关系，已经两天没有回我消息了",
		"my_attitude":        "我非常后悔，想认真地向她道歉并且用行动来弥补",
		"channel":            "text",
	}
}

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, p provider.Provider) (*testServer, *engine.Engine, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Run = func(fn func()) { fn() }
	e.SelectProvider = func(name string) (provider.Provider, error) { return p, nil }

	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowLegacyUserHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, e, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asUser(id string) map[string]string {
	return map[string]string{"X-User-Id": id}
}

type errEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errEnvelope {
	t.Helper()
	var env errEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env
}

func TestHealthRequiresNoAuth(t *testing.T) {
	srv, _, cleanup := newTestServer(t, &streamStub{})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestRequestsRequireIdentity(t *testing.T) {
	srv, _, cleanup := newTestServer(t, &streamStub{})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/cases", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401: %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "unauthorized" {
		t.Fatalf("error code %q, want unauthorized", env.Error.Code)
	}
}

func TestJWTAuthentication(t *testing.T) {
	srv, _, cleanup := newTestServer(t, &streamStub{})
	defer cleanup()

	token, err := MintToken(testSecret, "jwt-user", time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/preferences", nil,
		map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var prefs struct {
		DefaultTone string `json:"default_tone"`
	}
	if err := json.Unmarshal(data, &prefs); err != nil {
		t.Fatalf("unmarshal prefs: %v", err)
	}
	if prefs.DefaultTone != "sincere" {
		t.Fatalf("default tone %q, want sincere", prefs.DefaultTone)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/preferences", nil,
		map[string]string{"Authorization": "Bearer not-a-token"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status %d, want 401", res.StatusCode)
	}
}

func TestCreateCaseLifecycle(t *testing.T) {
	srv, _, cleanup := newTestServer(t, &streamStub{output: stubPlanJSON(t)})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/cases", caseBody(), asUser("user-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created struct {
		ID               string `json:"id"`
		GenerationStatus string `json:"generation_status"`
		ToneUsed         string `json:"tone_used"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal case: %v", err)
	}
	if created.GenerationStatus != "generating" {
		t.Fatalf("status %q, want generating snapshot", created.GenerationStatus)
	}
	if created.ToneUsed != "sincere" {
		t.Fatalf("tone %q, want sincere default", created.ToneUsed)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/cases/"+created.ID, nil, asUser("user-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, string(data))
	}
	var detail struct {
		GenerationStatus string           `json:"generation_status"`
		Plan             *plan.RepairPlan `json:"plan"`
		Messages         []struct {
			MessageType string `json:"message_type"`
			Content     string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(data, &detail); err != nil {
		t.Fatalf("unmarshal detail: %v", err)
	}
	if detail.GenerationStatus != "completed" {
		t.Fatalf("status %q, want completed", detail.GenerationStatus)
	}
	if detail.Plan == nil || detail.Plan.ApologySMS.Short == "" {
		t.Fatal("completed case must carry the parsed plan")
	}
	if len(detail.Messages) != 3 {
		t.Fatalf("got %d messages, want 3 variants", len(detail.Messages))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/cases?limit=20", nil, asUser("user-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var list []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(list) != 1 || list[0].ID != created.ID {
		t.Fatalf("list %v, want the created case", list)
	}
}

func TestCreateCaseValidation(t *testing.T) {
	srv, _, cleanup := newTestServer(t, &streamStub{output: stubPlanJSON(t)})
	defer cleanup()

	body := caseBody()
	body["what_i_did"] = "太短了"
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/cases", body, asUser("user-1"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400: %s", res.StatusCode, string(data))
	}
	env := decodeError(t, data)
	if env.Error.Code != "bad_request" {
		t.Fatalf("error code %q, want bad_request", env.Error.Code)
	}
	if env.Error.Details["field"] != "what_i_did" {
		t.Fatalf("details %v, want field what_i_did", env.Error.Details)
	}
}

func TestCaseOwnership(t *testing.T) {
	srv, _, cleanup := newTestServer(t, &streamStub{output: stubPlanJSON(t)})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/cases", caseBody(), asUser("user-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal case: %v", err)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/cases/"+created.ID, nil, asUser("user-2"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d, want 404: %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "not_found" {
		t.Fatalf("error code %q, want not_found", env.Error.Code)
	}
}

func TestUpdateAndRegenerateCase(t *testing.T) {
	srv, _, cleanup := newTestServer(t, &streamStub{output: stubPlanJSON(t)})
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/cases", caseBody(), asUser("user-1"))
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal case: %v", err)
	}

	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v1/cases/"+created.ID,
		map[string]any{"marked_sent": true, "resolved": true}, asUser("user-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d: %s", res.StatusCode, string(data))
	}
	var patched struct {
		MarkedSent bool    `json:"marked_sent"`
		ResolvedAt *string `json:"resolved_at"`
	}
	if err := json.Unmarshal(data, &patched); err != nil {
		t.Fatalf("unmarshal patched: %v", err)
	}
	if !patched.MarkedSent || patched.ResolvedAt == nil {
		t.Fatalf("patched %+v, want marked sent and resolved", patched)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/cases/"+created.ID+"/regenerate",
		map[string]any{"feedback": "语气再柔和一点，行动计划更具体", "tone": "gentle"}, asUser("user-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("regenerate status %d: %s", res.StatusCode, string(data))
	}
	var regenerated struct {
		GenerationStatus string `json:"generation_status"`
		ToneUsed         string `json:"tone_used"`
	}
	if err := json.Unmarshal(data, &regenerated); err != nil {
		t.Fatalf("unmarshal regenerated: %v", err)
	}
	if regenerated.GenerationStatus != "completed" || regenerated.ToneUsed != "gentle" {
		t.Fatalf("regenerated %+v, want completed with gentle tone", regenerated)
	}
}

func TestCreateCaseRateLimited(t *testing.T) {
	srv, e, cleanup := newTestServer(t, &streamStub{output: stubPlanJSON(t)})
	defer cleanup()
	e.Config.RateLimits["create_case"] = config.RateLimit{MaxRequests: 1, WindowMinutes: 60}
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/cases", caseBody(), asUser("user-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("first create status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/cases", caseBody(), asUser("user-1"))
	if res.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second create status %d, want 429: %s", res.StatusCode, string(data))
	}
	env := decodeError(t, data)
	if env.Error.Code != "rate_limited" {
		t.Fatalf("error code %q, want rate_limited", env.Error.Code)
	}
	if env.Error.Details["action"] != "create_case" {
		t.Fatalf("details %v, want action create_case", env.Error.Details)
	}
}

func TestPreferencesRoundTrip(t *testing.T) {
	srv, _, cleanup := newTestServer(t, &streamStub{})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v1/preferences",
		map[string]any{"default_tone": "gentle", "save_raw_inputs": true}, asUser("user-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d: %s", res.StatusCode, string(data))
	}
	var prefs struct {
		DefaultTone   string `json:"default_tone"`
		SaveRawInputs bool   `json:"save_raw_inputs"`
	}
	if err := json.Unmarshal(data, &prefs); err != nil {
		t.Fatalf("unmarshal prefs: %v", err)
	}
	if prefs.DefaultTone != "gentle" || !prefs.SaveRawInputs {
		t.Fatalf("prefs %+v, want gentle tone with raw inputs saved", prefs)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/preferences", nil, asUser("user-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &prefs); err != nil {
		t.Fatalf("unmarshal prefs: %v", err)
	}
	if prefs.DefaultTone != "gentle" {
		t.Fatalf("stored tone %q, want gentle", prefs.DefaultTone)
	}
}

func TestChatSessionFlow(t *testing.T) {
	srv, _, cleanup := newTestServer(t, &streamStub{chunks: []string{"你可以先给她一点空间，", "然后找个平静的时机聊聊"}})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/chat/sessions", nil, asUser("user-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create session status %d: %s", res.StatusCode, string(data))
	}
	var session struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	if err := json.Unmarshal(data, &session); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	if session.Title != "新对话" {
		t.Fatalf("title %q, want default", session.Title)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/chat/sessions/"+session.ID+"/stream",
		map[string]any{"content": "最近和女朋友吵架了我该怎么办"}, asUser("user-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stream status %d: %s", res.StatusCode, string(data))
	}
	if ct := res.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q, want text/event-stream", ct)
	}
	body := string(data)
	if !strings.Contains(body, `"content"`) {
		t.Fatalf("stream carried no content events: %s", body)
	}
	if !strings.Contains(body, "data: [DONE]") {
		t.Fatalf("stream missing terminator: %s", body)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/chat/sessions/"+session.ID, nil, asUser("user-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get session status %d: %s", res.StatusCode, string(data))
	}
	var detail struct {
		Title        string `json:"title"`
		MessageCount int    `json:"message_count"`
		Messages     []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(data, &detail); err != nil {
		t.Fatalf("unmarshal detail: %v", err)
	}
	if detail.Title != "最近和女朋友吵架了我该怎么办" {
		t.Fatalf("title %q, want auto title from first message", detail.Title)
	}
	if detail.MessageCount != 2 || len(detail.Messages) != 2 {
		t.Fatalf("detail %+v, want user and assistant messages", detail)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/chat/sessions/"+session.ID,
		map[string]any{"title": "和好计划"}, asUser("user-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("rename status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/chat/sessions/"+session.ID, nil, asUser("user-1"))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/chat/sessions/"+session.ID, nil, asUser("user-1"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status %d, want 404", res.StatusCode)
	}
}

func TestChatStreamRejectsEmptyMessage(t *testing.T) {
	srv, _, cleanup := newTestServer(t, &streamStub{chunks: []string{"好的"}})
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/chat/sessions", nil, asUser("user-1"))
	var session struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &session); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/chat/sessions/"+session.ID+"/stream",
		map[string]any{"content": "   "}, asUser("user-1"))
	// The empty-message check runs before any chunk is written, so the
	// handler still delivers a plain error event stream.
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stream status %d: %s", res.StatusCode, string(data))
	}
	if !strings.Contains(string(data), "bad_request") {
		t.Fatalf("expected bad_request error event, got: %s", string(data))
	}
}
