package server_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reanm09/intellidocs/internal/models"
	"github.com/reanm09/intellidocs/internal/testutil"
	"github.com/reanm09/intellidocs/internal/types"
	"github.com/reanm09/intellidocs/pkg/ingest"
	"github.com/reanm09/intellidocs/pkg/llm"
	"github.com/reanm09/intellidocs/pkg/rag"
	"github.com/reanm09/intellidocs/pkg/store"
	"github.com/reanm09/intellidocs/server"
)

type fakeJobs struct {
	mu   sync.Mutex
	jobs []ingest.Job
	err  error
}

func (j *fakeJobs) Submit(job ingest.Job) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.jobs = append(j.jobs, job)
	return nil
}

type fixture struct {
	srv       *server.Server
	registry  *store.Registry
	index     *store.MemoryIndex
	embedder  *testutil.FakeEmbedder
	jobs      *fakeJobs
	uploadDir string
}

var answerFragments = []string{"Penguins ", "eat ", "krill [Page 1]."}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	reg, err := store.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	f := &fixture{
		registry:  reg,
		index:     store.NewMemoryIndex(),
		embedder:  &testutil.FakeEmbedder{Dim: 128},
		jobs:      &fakeJobs{},
		uploadDir: t.TempDir(),
	}

	engine, err := llm.NewWithConfig(ctx, llm.ChatConfig{
		Backends: []llm.Backend{{Name: "fake", Model: &testutil.FakeModel{Fragments: answerFragments}}},
	})
	require.NoError(t, err)

	pipeline := rag.NewPipeline(rag.PipelineConfig{
		Orchestrator: rag.NewOrchestrator(rag.OrchestratorConfig{Index: f.index, Embedder: f.embedder}),
		Streamer:     rag.NewAnswerStreamer(engine),
		Memory:       reg,
		HistoryTurns: 8,
	})

	f.srv, err = server.NewWithConfig(server.Config{
		Registry:  reg,
		Index:     f.index,
		Pipeline:  pipeline,
		Jobs:      f.jobs,
		UploadDir: f.uploadDir,
	})
	require.NoError(t, err)
	return f
}

// seedCollection registers and indexes a completed document for user 1.
func (f *fixture) seedCollection(t *testing.T, filename, text string) *models.Collection {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(f.uploadDir, filename)
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 "+text), 0o600))

	c, err := f.registry.CreateCollection(ctx, 1, filename, path)
	require.NoError(t, err)
	require.NoError(t, f.registry.SetCollectionStatus(ctx, c.ID, models.StatusCompleted))

	v, err := f.embedder.EmbedQuery(ctx, text)
	require.NoError(t, err)
	require.NoError(t, f.index.Insert(ctx, c.Name(), []models.IndexedChunk{{
		ID: c.Name() + "-0", Text: text, Metadata: models.ChunkMeta{Page: 1}.Metadata(), Embedding: v,
	}}))
	return c
}

func (f *fixture) do(t *testing.T, method, path string, user int64, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if user != 0 {
		req.Header.Set(server.UserHeader, fmt.Sprint(user))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) upload(t *testing.T, user int64, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(server.UserHeader, fmt.Sprint(user))
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type wireEvent struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	ChatID *int64          `json:"chat_id"`
}

func readEvents(t *testing.T, body io.Reader) []wireEvent {
	t.Helper()
	var events []wireEvent
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		var e wireEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e), sc.Text())
		events = append(events, e)
	}
	require.NoError(t, sc.Err())
	return events
}

func chatBody(t *testing.T, req server.ChatRequest) io.Reader {
	t.Helper()
	b, err := json.Marshal(req)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/health", 0, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestUnauthenticated(t *testing.T) {
	f := newFixture(t)
	for _, user := range []string{"", "abc", "0", "-3"} {
		req := httptest.NewRequest(http.MethodGet, "/api/collections", nil)
		if user != "" {
			req.Header.Set(server.UserHeader, user)
		}
		rec := httptest.NewRecorder()
		f.srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "user %q", user)
	}
}

func TestUpload(t *testing.T) {
	f := newFixture(t)

	rec := f.upload(t, 1, "../My Penguins.pdf", []byte("%PDF-1.4 fake"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[map[string]any](t, rec)
	assert.Equal(t, true, resp["ok"])
	assert.Equal(t, "processing", resp["status"])
	assert.EqualValues(t, 1, resp["collection_id"])

	require.Len(t, f.jobs.jobs, 1)
	job := f.jobs.jobs[0]
	assert.Equal(t, "My_Penguins.pdf", job.Filename)
	assert.Equal(t, "user_1__My_Penguins.pdf", job.Collection())
	assert.Equal(t, filepath.Join(f.uploadDir, "1", "My_Penguins.pdf"), job.Path)

	data, err := os.ReadFile(job.Path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 fake", string(data))

	c, err := f.registry.GetCollection(context.Background(), 1, job.CollectionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, c.Status)
}

func TestUploadRejects(t *testing.T) {
	f := newFixture(t)

	rec := f.upload(t, 1, "notes.txt", []byte("hello"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/upload", 1, strings.NewReader("{}"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, f.jobs.jobs)
}

func TestUploadQueueFull(t *testing.T) {
	f := newFixture(t)
	f.jobs.err = types.ErrQueueFull

	rec := f.upload(t, 1, "a.pdf", []byte("%PDF"))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	cols, err := f.registry.ListCollections(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Equal(t, models.StatusFailed, cols[0].Status)
}

func TestCollections(t *testing.T) {
	f := newFixture(t)
	first := f.seedCollection(t, "a.pdf", "alpha")
	second := f.seedCollection(t, "b.pdf", "beta")

	t.Run("list", func(t *testing.T) {
		resp := decode[struct {
			OK          bool                `json:"ok"`
			Collections []models.Collection `json:"collections"`
		}](t, f.do(t, http.MethodGet, "/api/collections", 1, nil))

		assert.True(t, resp.OK)
		require.Len(t, resp.Collections, 2)
		assert.Equal(t, second.ID, resp.Collections[0].ID, "newest first")
		assert.Equal(t, models.StatusCompleted, resp.Collections[0].Status)

		other := decode[map[string]any](t, f.do(t, http.MethodGet, "/api/collections", 2, nil))
		assert.Empty(t, other["collections"])
	})

	t.Run("download", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, fmt.Sprintf("/api/collections/%d/download", first.ID), 1, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "%PDF-1.4 alpha", rec.Body.String())

		rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/collections/%d/download", first.ID), 2, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("delete", func(t *testing.T) {
		rec := f.do(t, http.MethodDelete, fmt.Sprintf("/api/collections/%d", first.ID), 1, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		_, err := os.Stat(first.StoredPath)
		assert.True(t, os.IsNotExist(err))
		assert.Zero(t, f.index.Count(first.Name()))
		assert.Equal(t, 1, f.index.Count(second.Name()))

		_, err = f.registry.GetCollection(context.Background(), 1, first.ID)
		assert.ErrorIs(t, err, types.ErrNotFound)

		rec = f.do(t, http.MethodDelete, fmt.Sprintf("/api/collections/%d", first.ID), 1, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("bad id", func(t *testing.T) {
		rec := f.do(t, http.MethodDelete, "/api/collections/abc", 1, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestChats(t *testing.T) {
	f := newFixture(t)
	c := f.seedCollection(t, "a.pdf", "alpha")
	ctx := context.Background()

	rec := f.do(t, http.MethodPost, "/api/chats", 1, strings.NewReader(fmt.Sprintf(`{"name":"Study","collection_id":%d,"mode":"hybrid"}`, c.ID)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decode[struct {
		ChatID int64 `json:"chat_id"`
	}](t, rec)
	require.NotZero(t, created.ChatID)

	chat, err := f.registry.GetChat(ctx, 1, created.ChatID)
	require.NoError(t, err)
	assert.Equal(t, "Study", chat.Name)
	assert.Equal(t, models.ModeHybrid, chat.Mode)

	rec = f.do(t, http.MethodPost, "/api/chats", 1, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/chats", 2, strings.NewReader(fmt.Sprintf(`{"collection_id":%d}`, c.ID)))
	assert.Equal(t, http.StatusNotFound, rec.Code, "collection belongs to another user")

	list := decode[struct {
		Chats []models.Chat `json:"chats"`
	}](t, f.do(t, http.MethodGet, "/api/chats", 1, nil))
	assert.Len(t, list.Chats, 2)

	require.NoError(t, f.registry.AppendTurn(ctx, 1, created.ChatID, models.RoleUser, "hi"))
	require.NoError(t, f.registry.AppendTurn(ctx, 1, created.ChatID, models.RoleAssistant, "hello"))
	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/chats/%d", created.ChatID), 1, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"history":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/chats/%d", created.ChatID), 2, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/api/chats/%d", created.ChatID), 1, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/api/chats/%d", created.ChatID), 1, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatStream(t *testing.T) {
	f := newFixture(t)
	c := f.seedCollection(t, "penguins.pdf", "penguins eat krill")
	ctx := context.Background()

	rec := f.do(t, http.MethodPost, "/api/chat", 1, chatBody(t, server.ChatRequest{
		Query: "what do penguins eat?", CollectionName: "penguins.pdf",
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	events := readEvents(t, rec.Body)
	require.Len(t, events, 1+len(answerFragments))

	assert.Equal(t, "sources", events[0].Type)
	require.NotNil(t, events[0].ChatID, "a chat is created for the collection")
	var sources models.SourceBundle
	require.NoError(t, json.Unmarshal(events[0].Data, &sources))
	require.Len(t, sources.PDF, 1)
	assert.Equal(t, models.PDFSource{Type: "pdf", Page: 1, Snippet: "penguins eat krill"}, sources.PDF[0])
	assert.Empty(t, sources.Web)

	var answer strings.Builder
	for _, e := range events[1:] {
		assert.Equal(t, "token", e.Type)
		var s string
		require.NoError(t, json.Unmarshal(e.Data, &s))
		answer.WriteString(s)
	}
	assert.Equal(t, strings.Join(answerFragments, ""), answer.String())

	chatID := *events[0].ChatID
	chat, err := f.registry.LatestChatForCollection(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, chatID, chat.ID)

	turns, err := f.registry.RecentTurns(ctx, 1, chatID, 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "what do penguins eat?", turns[0].Content)
	assert.Equal(t, answer.String(), turns[1].Content)

	t.Run("reuses the collection chat", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/chat", 1, chatBody(t, server.ChatRequest{
			Query: "again", CollectionName: "user_1__penguins.pdf",
		}))
		events := readEvents(t, rec.Body)
		require.NotNil(t, events[0].ChatID)
		assert.Equal(t, chatID, *events[0].ChatID)
	})

	t.Run("foreign chat id is dropped", func(t *testing.T) {
		foreign, err := f.registry.CreateChat(ctx, 2, "theirs", nil, models.ModeDiscrete)
		require.NoError(t, err)

		rec := f.do(t, http.MethodPost, "/api/chat", 1, chatBody(t, server.ChatRequest{
			Query: "q", CollectionName: "penguins.pdf", ChatID: &foreign.ID,
		}))
		events := readEvents(t, rec.Body)
		require.NotNil(t, events[0].ChatID)
		assert.Equal(t, chatID, *events[0].ChatID)

		turns, err := f.registry.RecentTurns(ctx, 2, foreign.ID, 10)
		require.NoError(t, err)
		assert.Empty(t, turns)
	})
}

func TestChatUnknownCollection(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/chat", 1, chatBody(t, server.ChatRequest{
		Query: "anything?", CollectionName: "missing.pdf", Mode: "discrete",
	}))

	events := readEvents(t, rec.Body)
	require.Len(t, events, 1+len(answerFragments))
	assert.Equal(t, "sources", events[0].Type)
	assert.Nil(t, events[0].ChatID)
	assert.JSONEq(t, `{"pdf":[],"web":[]}`, string(events[0].Data))
}

func TestChatBadRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"no collection", `{"query":"q"}`},
		{"no query", `{"collection_name":"a.pdf"}`},
		{"blank query", `{"collection_name":"a.pdf","query":"   "}`},
		{"bad mode", `{"collection_name":"a.pdf","query":"q","mode":"psychic"}`},
		{"not json", `query=q`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/chat", 1, strings.NewReader(tt.body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestWebSocket(t *testing.T) {
	f := newFixture(t)
	f.seedCollection(t, "penguins.pdf", "penguins eat krill")
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	header := http.Header{}
	header.Set(server.UserHeader, "1")
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", header)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(server.ChatRequest{Query: "what do penguins eat?", CollectionName: "penguins.pdf"}))

	var events []wireEvent
	for i := 0; i < 1+len(answerFragments); i++ {
		var e wireEvent
		require.NoError(t, conn.ReadJSON(&e))
		events = append(events, e)
	}
	assert.Equal(t, "sources", events[0].Type)
	assert.Equal(t, "token", events[len(events)-1].Type)

	require.NoError(t, conn.WriteJSON(server.ChatRequest{Query: "q"}))
	var e wireEvent
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, "error", e.Type)
}

func TestWebSocketAnswersInOrder(t *testing.T) {
	f := newFixture(t)
	f.seedCollection(t, "penguins.pdf", "penguins eat krill")
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	header := http.Header{}
	header.Set(server.UserHeader, "1")
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", header)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(server.ChatRequest{Query: "what do penguins eat?", CollectionName: "penguins.pdf"}))
	require.NoError(t, conn.WriteJSON(server.ChatRequest{Query: "where do they live?", CollectionName: "penguins.pdf"}))

	var want, got []string
	for i := 0; i < 2; i++ {
		want = append(want, "sources")
		for range answerFragments {
			want = append(want, "token")
		}
	}
	for range want {
		var e wireEvent
		require.NoError(t, conn.ReadJSON(&e))
		got = append(got, e.Type)
	}
	assert.Equal(t, want, got)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"report.pdf", "report.pdf"},
		{"My Report (final).pdf", "My_Report_final.pdf"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\doc.pdf`, "doc.pdf"},
		{".hidden.pdf", "hidden.pdf"},
		{"..", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, server.SanitizeFilename(tt.in), tt.in)
	}
}
