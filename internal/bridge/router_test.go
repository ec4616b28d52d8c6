package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore/deskrt/internal/apperr"
	"github.com/agentcore/deskrt/internal/config"
	"github.com/agentcore/deskrt/internal/mcpmux"
	agentrt "github.com/agentcore/deskrt/internal/runtime"
	"github.com/agentcore/deskrt/internal/storage"
	"github.com/agentcore/deskrt/internal/streambuf"
	"github.com/agentcore/deskrt/pkg/deskrt/conversation"
)

func newTestBridge(t *testing.T) (*Bridge, *storage.Store, *agentrt.Manager) {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(ctx, "", t.TempDir()+"/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := storage.New(db)
	require.NoError(t, store.EnsureSystemUser(ctx))

	buf := streambuf.New(store, 20, 300*time.Millisecond)
	bus := NewEventBus()
	backend := &echoBackend{}
	mgr := agentrt.NewManager(store, buf, bus, backend)
	mux := mcpmux.NewMultiplexer()
	cfg, err := config.Load(t.TempDir() + "/config.yaml")
	require.NoError(t, err)

	return New(store, mgr, mux, bus, cfg), store, mgr
}

type echoBackend struct{}

func (echoBackend) IntegratedGenerator(c conversation.Conversation) agentrt.Generator {
	return func(ctx context.Context, in agentrt.SendInput) (<-chan agentrt.RawEvent, error) {
		ch := make(chan agentrt.RawEvent, 1)
		ch <- agentrt.RawEvent{Kind: "content", MsgID: in.MsgID, Data: in.Input}
		close(ch)
		return ch, nil
	}
}
func (echoBackend) ACPCommand(c conversation.Conversation) (string, []string)   { return "", nil }
func (echoBackend) CodexCommand(c conversation.Conversation) (string, []string) { return "", nil }

func doJSON(r *Bridge, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.Router().ServeHTTP(w, req)
	return w
}

func TestCreateAndGetConversation(t *testing.T) {
	b, _, _ := newTestBridge(t)

	w := doJSON(b, http.MethodPost, "/v1/conversation/create", createRequest{
		Name: "first", Type: conversation.TypeIntegrated, Model: "gpt",
		Extra: conversation.Extra{Workspace: "/tmp/ws"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var created apperr.Reply
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.True(t, created.Success)

	data := created.Data.(map[string]any)
	id := data["id"].(string)

	w2 := doJSON(b, http.MethodPost, "/v1/conversation/get?id="+id, nil)
	require.Equal(t, http.StatusOK, w2.Code)
	var got apperr.Reply
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &got))
	assert.True(t, got.Success)
}

func TestGetMissingConversationReturns404(t *testing.T) {
	b, _, _ := newTestBridge(t)
	w := doJSON(b, http.MethodPost, "/v1/conversation/get?id=nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendMessagePersistsTextContent(t *testing.T) {
	b, store, _ := newTestBridge(t)
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, conversation.Conversation{
		ID: "c1", Type: conversation.TypeIntegrated, Extra: conversation.Extra{Workspace: "/tmp"},
	})
	require.NoError(t, err)

	w := doJSON(b, http.MethodPost, "/v1/conversation/sendMessage", sendMessageRequest{
		ID: conv.ID, Input: "hello", MsgID: "m1",
	})
	require.Equal(t, http.StatusOK, w.Code)
	// a single chunk is flushed by the buffer's 300ms interval timer
	time.Sleep(400 * time.Millisecond)

	msgs, err := store.GetConversationMessages(ctx, conv.ID, 1, 10)
	require.NoError(t, err)
	require.Len(t, msgs.Data, 1)
	assert.Equal(t, "m1", msgs.Data[0].MsgID)
}

func TestGetUserConversationsReturnsCreated(t *testing.T) {
	b, _, _ := newTestBridge(t)
	doJSON(b, http.MethodPost, "/v1/conversation/create", createRequest{
		Name: "a", Type: conversation.TypeIntegrated, Extra: conversation.Extra{Workspace: "/tmp"},
	})
	w := doJSON(b, http.MethodPost, "/v1/db/getUserConversations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var reply apperr.Reply
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	assert.True(t, reply.Success)
}

func TestGetAgentMcpConfigsEmptyWhenNoSourcesRegistered(t *testing.T) {
	b, _, _ := newTestBridge(t)
	w := doJSON(b, http.MethodPost, "/v1/mcp/getAgentMcpConfigs", agentsRequest{Agents: []string{"claude"}})
	require.Equal(t, http.StatusOK, w.Code)
	var reply apperr.Reply
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	assert.True(t, reply.Success)
}

func TestSystemInfoReturnsPlatformAndArch(t *testing.T) {
	b, _, _ := newTestBridge(t)
	w := doJSON(b, http.MethodPost, "/v1/system/systemInfo", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var reply apperr.Reply
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	data := reply.Data.(map[string]any)
	assert.NotEmpty(t, data["platform"])
	assert.NotEmpty(t, data["arch"])
}
