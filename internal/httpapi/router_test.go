package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/suPer8Hu/companion-chat/internal/auth"
	"github.com/suPer8Hu/companion-chat/internal/chat"
	"github.com/suPer8Hu/companion-chat/internal/companion"
	"github.com/suPer8Hu/companion-chat/internal/db"
	"github.com/suPer8Hu/companion-chat/internal/httpapi/handlers"
	"github.com/suPer8Hu/companion-chat/internal/quota"
)

const testSecret = "test-secret"

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testEnv struct {
	r      *gin.Engine
	mgr    *chat.Manager
	sink   *chat.AsyncSink
	ledger *quota.MemoryLedger
	token  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := db.Open("sqlite:file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	companions := companion.NewRepo(gdb)
	messages := chat.NewRepo(gdb)
	builtin := companion.NewMemoryRegistry(companion.Seed())
	hub := chat.NewHub(32)
	ledger := quota.NewMemoryLedger()
	sink := chat.NewAsyncSink("persist", 64, chat.Persistable, messages.Apply)

	mgr := chat.NewManager(chat.ManagerOptions{
		Registry:   companion.Chain{builtin, companion.NewRepoRegistry(companions)},
		Ledger:     ledger,
		Listener:   chat.Listeners{hub, sink},
		DailyQuota: 3,
		ReplyDelay: 20 * time.Millisecond,
	})
	t.Cleanup(func() {
		mgr.Shutdown()
		sink.Close()
	})

	h := handlers.NewHandler(handlers.Deps{
		Sessions:   mgr,
		Hub:        hub,
		Messages:   messages,
		Companions: companions,
		Builtin:    builtin,
	})

	token, err := auth.SignJWT("user-1", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return &testEnv{r: NewRouter(h, testSecret), mgr: mgr, sink: sink, ledger: ledger, token: token}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s %s: %v body=%s", method, path, err, w.Body.String())
	}
	return w.Code, env
}

func decode(t *testing.T, raw json.RawMessage, v any) {
	t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode data: %v raw=%s", err, raw)
	}
}

type sendResp struct {
	SessionID string        `json:"session_id"`
	Accepted  bool          `json:"accepted"`
	Reason    string        `json:"reason"`
	Message   *chat.Message `json:"message"`
	Remaining int           `json:"remaining"`
	Typing    bool          `json:"typing"`
}

func (e *testEnv) open(t *testing.T, companionID string) chat.Snapshot {
	t.Helper()
	code, env := e.do(t, http.MethodPost, "/chat/sessions", e.token, gin.H{"companion_id": companionID})
	if code != http.StatusOK || env.Code != 0 {
		t.Fatalf("open: status=%d code=%d msg=%s", code, env.Code, env.Message)
	}
	var snap chat.Snapshot
	decode(t, env.Data, &snap)
	return snap
}

func (e *testEnv) send(t *testing.T, sessionID string, body any) sendResp {
	t.Helper()
	code, env := e.do(t, http.MethodPost, "/chat/sessions/"+sessionID+"/messages", e.token, body)
	if code != http.StatusOK {
		t.Fatalf("send: status=%d msg=%s", code, env.Message)
	}
	var out sendResp
	decode(t, env.Data, &out)
	return out
}

func (e *testEnv) waitIdle(t *testing.T, sessionID string) chat.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, env := e.do(t, http.MethodGet, "/chat/sessions/"+sessionID, e.token, nil)
		var snap chat.Snapshot
		decode(t, env.Data, &snap)
		if !snap.Typing {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("session %s still typing", sessionID)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func validDraft(name string) gin.H {
	return gin.H{
		"name":         name,
		"description":  "A calm listener",
		"avatar_style": "anime",
		"personality":  []string{"friendly", "creative"},
		"languages":    []gin.H{{"id": "en", "proficiency": "native"}},
		"tone":         "casual",
		"prompts":      []string{"How was your day?"},
	}
}

func TestPing(t *testing.T) {
	e := newTestEnv(t)
	code, env := e.do(t, http.MethodGet, "/ping", "", nil)
	if code != http.StatusOK || env.Code != 0 {
		t.Fatalf("ping: status=%d code=%d", code, env.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	e := newTestEnv(t)

	code, env := e.do(t, http.MethodGet, "/companions", "", nil)
	if code != http.StatusUnauthorized || env.Code != 40101 {
		t.Fatalf("missing token: status=%d code=%d", code, env.Code)
	}

	code, env = e.do(t, http.MethodGet, "/companions", "not-a-jwt", nil)
	if code != http.StatusUnauthorized || env.Code != 40102 {
		t.Fatalf("bad token: status=%d code=%d", code, env.Code)
	}
}

func TestNoRoute(t *testing.T) {
	e := newTestEnv(t)
	code, env := e.do(t, http.MethodGet, "/nope", "", nil)
	if code != http.StatusNotFound || env.Code != 40400 {
		t.Fatalf("status=%d code=%d", code, env.Code)
	}
}

func TestChatSession_SubmitAndReply(t *testing.T) {
	e := newTestEnv(t)
	snap := e.open(t, "1")
	if len(snap.Messages) != 3 || snap.Remaining != 3 || snap.Typing {
		t.Fatalf("unexpected opening snapshot: %+v", snap)
	}
	if !strings.Contains(snap.Messages[0].Body, "Luna") {
		t.Fatalf("greeting should name the companion: %q", snap.Messages[0].Body)
	}

	out := e.send(t, snap.SessionID, gin.H{"text": "  hello there  "})
	if !out.Accepted || out.Message == nil {
		t.Fatalf("expected accepted: %+v", out)
	}
	if out.Message.ID != 4 || out.Message.Body != "hello there" || out.Message.Read {
		t.Fatalf("unexpected message: %+v", out.Message)
	}
	if !out.Typing || out.Remaining != 2 {
		t.Fatalf("typing=%v remaining=%d", out.Typing, out.Remaining)
	}

	final := e.waitIdle(t, snap.SessionID)
	if len(final.Messages) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(final.Messages))
	}
	last := final.Messages[4]
	if last.Author != chat.AuthorCompanion || last.Body != chat.PlaceholderReply || last.ID != 5 {
		t.Fatalf("unexpected reply: %+v", last)
	}
}

func TestChatSession_RejectsInvalid(t *testing.T) {
	e := newTestEnv(t)
	snap := e.open(t, "1")

	for _, text := range []string{"", "   ", strings.Repeat("a", chat.MaxBodyLen+1)} {
		out := e.send(t, snap.SessionID, gin.H{"text": text})
		if out.Accepted || out.Reason != "invalid" || out.Message != nil {
			t.Fatalf("text %q: expected invalid rejection, got %+v", text, out)
		}
		if out.Remaining != 3 || out.Typing {
			t.Fatalf("rejection must not change state: %+v", out)
		}
	}

	out := e.send(t, snap.SessionID, gin.H{"text": strings.Repeat("b", chat.MaxBodyLen)})
	if !out.Accepted {
		t.Fatalf("100 characters should be accepted: %+v", out)
	}
}

func TestChatSession_QuotaExhausted(t *testing.T) {
	e := newTestEnv(t)
	snap := e.open(t, "2")

	for i := 0; i < 3; i++ {
		if out := e.send(t, snap.SessionID, gin.H{"text": "msg"}); !out.Accepted {
			t.Fatalf("send %d rejected: %+v", i, out)
		}
	}
	out := e.send(t, snap.SessionID, gin.H{"text": "one more"})
	if out.Accepted || out.Reason != "quota_exhausted" || out.Remaining != 0 {
		t.Fatalf("expected quota rejection, got %+v", out)
	}
}

func TestChatSession_Draft(t *testing.T) {
	e := newTestEnv(t)
	snap := e.open(t, "1")

	code, env := e.do(t, http.MethodPut, "/chat/sessions/"+snap.SessionID+"/draft", e.token, gin.H{"text": "from the draft"})
	if code != http.StatusOK {
		t.Fatalf("set draft: status=%d msg=%s", code, env.Message)
	}

	out := e.send(t, snap.SessionID, gin.H{})
	if !out.Accepted || out.Message.Body != "from the draft" {
		t.Fatalf("draft submit: %+v", out)
	}

	_, env = e.do(t, http.MethodGet, "/chat/sessions/"+snap.SessionID, e.token, nil)
	var after chat.Snapshot
	decode(t, env.Data, &after)
	if after.Draft != "" {
		t.Fatalf("draft should be cleared, got %q", after.Draft)
	}
}

func TestChatSession_MarkRead(t *testing.T) {
	e := newTestEnv(t)
	snap := e.open(t, "1")
	out := e.send(t, snap.SessionID, gin.H{"text": "read me"})

	base := "/chat/sessions/" + snap.SessionID + "/messages/"
	var res struct {
		Updated bool `json:"updated"`
	}

	_, env := e.do(t, http.MethodPost, base+"4/read", e.token, nil)
	decode(t, env.Data, &res)
	if !res.Updated || out.Message.ID != 4 {
		t.Fatalf("user message should be marked read")
	}

	_, env = e.do(t, http.MethodPost, base+"1/read", e.token, nil)
	decode(t, env.Data, &res)
	if res.Updated {
		t.Fatalf("companion message must not be markable")
	}

	_, env = e.do(t, http.MethodPost, base+"99/read", e.token, nil)
	decode(t, env.Data, &res)
	if res.Updated {
		t.Fatalf("unknown id must be a no-op")
	}

	code, env := e.do(t, http.MethodPost, base+"abc/read", e.token, nil)
	if code != http.StatusBadRequest || env.Code != 10004 {
		t.Fatalf("bad id: status=%d code=%d", code, env.Code)
	}
}

func TestChatSession_CloseAndOwnership(t *testing.T) {
	e := newTestEnv(t)
	snap := e.open(t, "1")

	other, _ := auth.SignJWT("user-2", testSecret, time.Hour)
	code, env := e.do(t, http.MethodGet, "/chat/sessions/"+snap.SessionID, other, nil)
	if code != http.StatusNotFound || env.Code != 40004 {
		t.Fatalf("other user: status=%d code=%d", code, env.Code)
	}

	e.send(t, snap.SessionID, gin.H{"text": "bye"})
	code, _ = e.do(t, http.MethodDelete, "/chat/sessions/"+snap.SessionID, e.token, nil)
	if code != http.StatusOK {
		t.Fatalf("close: status=%d", code)
	}
	code, _ = e.do(t, http.MethodGet, "/chat/sessions/"+snap.SessionID, e.token, nil)
	if code != http.StatusNotFound {
		t.Fatalf("closed session should be gone, status=%d", code)
	}
	code, _ = e.do(t, http.MethodDelete, "/chat/sessions/"+snap.SessionID, e.token, nil)
	if code != http.StatusNotFound {
		t.Fatalf("second close: status=%d", code)
	}
}

func TestChatSession_ReopenKeepsDailyQuota(t *testing.T) {
	e := newTestEnv(t)
	snap := e.open(t, "1")
	e.send(t, snap.SessionID, gin.H{"text": "one"})

	// the quota ledger is fed by a sink in production; feed it directly here
	if err := e.ledger.Consume(t.Context(), "user-1", "1", time.Now()); err != nil {
		t.Fatalf("consume: %v", err)
	}

	again := e.open(t, "1")
	if again.SessionID == snap.SessionID {
		t.Fatalf("expected a new session id")
	}
	if again.Remaining != 2 {
		t.Fatalf("remaining after reopen = %d, want 2", again.Remaining)
	}
	code, _ := e.do(t, http.MethodGet, "/chat/sessions/"+snap.SessionID, e.token, nil)
	if code != http.StatusNotFound {
		t.Fatalf("previous session should be closed, status=%d", code)
	}
}

func TestOpenChatSession_Errors(t *testing.T) {
	e := newTestEnv(t)

	code, env := e.do(t, http.MethodPost, "/chat/sessions", e.token, gin.H{"companion_id": "missing"})
	if code != http.StatusNotFound || env.Code != 40401 {
		t.Fatalf("unknown companion: status=%d code=%d", code, env.Code)
	}

	code, env = e.do(t, http.MethodPost, "/chat/sessions", e.token, gin.H{})
	if code != http.StatusBadRequest || env.Code != 10001 {
		t.Fatalf("missing companion_id: status=%d code=%d", code, env.Code)
	}
}

func TestCompanions_CRUD(t *testing.T) {
	e := newTestEnv(t)

	code, env := e.do(t, http.MethodPost, "/companions", e.token, validDraft("Nova"))
	if code != http.StatusOK {
		t.Fatalf("create: status=%d msg=%s", code, env.Message)
	}
	var created companion.Companion
	decode(t, env.Data, &created)
	if created.ID == "" || created.Name != "Nova" || created.Tone != "casual" {
		t.Fatalf("unexpected companion: %+v", created)
	}

	_, env = e.do(t, http.MethodGet, "/companions", e.token, nil)
	var list struct {
		Builtin []companion.Profile   `json:"builtin"`
		Owned   []companion.Companion `json:"owned"`
	}
	decode(t, env.Data, &list)
	if len(list.Builtin) != 2 || len(list.Owned) != 1 {
		t.Fatalf("builtin=%d owned=%d", len(list.Builtin), len(list.Owned))
	}

	other, _ := auth.SignJWT("user-2", testSecret, time.Hour)
	code, _ = e.do(t, http.MethodGet, "/companions/"+created.ID, other, nil)
	if code != http.StatusNotFound {
		t.Fatalf("other user should not see the companion, status=%d", code)
	}

	update := validDraft("Nova Prime")
	update["tone"] = "enthusiastic"
	code, env = e.do(t, http.MethodPut, "/companions/"+created.ID, e.token, update)
	if code != http.StatusOK {
		t.Fatalf("update: status=%d msg=%s", code, env.Message)
	}
	var updated companion.Companion
	decode(t, env.Data, &updated)
	if updated.ID != created.ID || updated.Name != "Nova Prime" || updated.Tone != "enthusiastic" {
		t.Fatalf("unexpected update: %+v", updated)
	}

	snap := e.open(t, created.ID)
	if !strings.Contains(snap.Messages[0].Body, "Nova Prime") {
		t.Fatalf("greeting should use the stored name: %q", snap.Messages[0].Body)
	}

	code, _ = e.do(t, http.MethodDelete, "/companions/"+created.ID, e.token, nil)
	if code != http.StatusOK {
		t.Fatalf("delete: status=%d", code)
	}
	code, env = e.do(t, http.MethodDelete, "/companions/"+created.ID, e.token, nil)
	if code != http.StatusNotFound || env.Code != 40401 {
		t.Fatalf("second delete: status=%d code=%d", code, env.Code)
	}
}

func TestCompanions_GetBuiltin(t *testing.T) {
	e := newTestEnv(t)
	code, env := e.do(t, http.MethodGet, "/companions/1", e.token, nil)
	if code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	var p companion.Profile
	decode(t, env.Data, &p)
	if p.Name != "Luna" || p.AffinityLevel != 4 {
		t.Fatalf("unexpected profile: %+v", p)
	}
}

func TestCompanions_Validation(t *testing.T) {
	e := newTestEnv(t)

	cases := map[string]func(d gin.H){
		"tone":        func(d gin.H) { d["tone"] = "angry" },
		"name":        func(d gin.H) { d["name"] = "  " },
		"personality": func(d gin.H) { d["personality"] = []string{"friendly", "formal", "humorous", "creative"} },
		"languages":   func(d gin.H) { d["languages"] = []gin.H{} },
		"prompts":     func(d gin.H) { d["prompts"] = []string{strings.Repeat("p", 101)} },
	}
	for field, mutate := range cases {
		d := validDraft("Bad")
		mutate(d)
		code, env := e.do(t, http.MethodPost, "/companions", e.token, d)
		if code != http.StatusBadRequest || env.Code != 10010 {
			t.Fatalf("%s: status=%d code=%d", field, code, env.Code)
		}
		if !strings.Contains(env.Message, field) {
			t.Fatalf("%s: message should name the field, got %q", field, env.Message)
		}
	}
}

func TestListCompanionMessages(t *testing.T) {
	e := newTestEnv(t)
	snap := e.open(t, "1")
	e.send(t, snap.SessionID, gin.H{"text": "remember this"})
	e.do(t, http.MethodPost, "/chat/sessions/"+snap.SessionID+"/messages/4/read", e.token, nil)
	e.waitIdle(t, snap.SessionID)
	e.sink.Close()

	code, env := e.do(t, http.MethodGet, "/companions/1/messages?limit=10", e.token, nil)
	if code != http.StatusOK {
		t.Fatalf("status=%d msg=%s", code, env.Message)
	}
	var page struct {
		Messages     []chat.StoredMessage `json:"messages"`
		NextBeforeID uint64               `json:"next_before_id"`
	}
	decode(t, env.Data, &page)
	if len(page.Messages) != 2 {
		t.Fatalf("expected 2 stored messages, got %d", len(page.Messages))
	}
	if page.Messages[0].Author != string(chat.AuthorCompanion) || page.Messages[1].Body != "remember this" {
		t.Fatalf("unexpected order: %+v", page.Messages)
	}
	if !page.Messages[1].Read {
		t.Fatalf("read receipt should be persisted")
	}
	if page.NextBeforeID != page.Messages[1].ID {
		t.Fatalf("next_before_id=%d", page.NextBeforeID)
	}
}

type wsFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f wsFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestChatSessionEvents_WebSocket(t *testing.T) {
	e := newTestEnv(t)
	srv := httptest.NewServer(e.r)
	defer srv.Close()

	snap := e.open(t, "1")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/sessions/" + snap.SessionID + "/ws?token=" + e.token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if f := readFrame(t, conn); f.Type != "snapshot" {
		t.Fatalf("first frame = %q, want snapshot", f.Type)
	}

	if err := conn.WriteJSON(gin.H{"type": "submit", "text": "over the socket"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var types []string
	for {
		f := readFrame(t, conn)
		types = append(types, f.Type)
		if f.Type == string(chat.EventTyping) {
			var ev chat.Event
			decode(t, f.Data, &ev)
			if !ev.Typing {
				break
			}
		}
	}
	want := []string{"message", "typing", "message", "typing"}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("frames = %v, want %v", types, want)
	}

	if err := conn.WriteJSON(gin.H{"type": "submit", "text": "   "}); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := readFrame(t, conn)
	var rej struct {
		Reason string `json:"reason"`
	}
	decode(t, f.Data, &rej)
	if f.Type != "rejected" || rej.Reason != "invalid" {
		t.Fatalf("expected invalid rejection, got %s %s", f.Type, f.Data)
	}

	if code, _ := e.do(t, http.MethodDelete, "/chat/sessions/"+snap.SessionID, e.token, nil); code != http.StatusOK {
		t.Fatalf("close: status=%d", code)
	}
	if f := readFrame(t, conn); f.Type != string(chat.EventClosed) {
		t.Fatalf("expected closed frame, got %q", f.Type)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var tail wsFrame
	err = conn.ReadJSON(&tail)
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
}

func TestOpenChatSession_OtherUsersCompanion(t *testing.T) {
	e := newTestEnv(t)

	code, env := e.do(t, http.MethodPost, "/companions", e.token, validDraft("Private"))
	if code != http.StatusOK {
		t.Fatalf("create: status=%d msg=%s", code, env.Message)
	}
	var created companion.Companion
	decode(t, env.Data, &created)

	other, _ := auth.SignJWT("user-2", testSecret, time.Hour)
	code, env = e.do(t, http.MethodPost, "/chat/sessions", other, gin.H{"companion_id": created.ID})
	if code != http.StatusNotFound || env.Code != 40401 {
		t.Fatalf("other user open: status=%d code=%d", code, env.Code)
	}

	code, env = e.do(t, http.MethodPost, "/chat/sessions", other, gin.H{"companion_id": "1"})
	if code != http.StatusOK || env.Code != 0 {
		t.Fatalf("built-in companion should stay open to everyone: status=%d code=%d", code, env.Code)
	}
}
