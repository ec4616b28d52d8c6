// Package bridge implements the External-interface Bridge of spec §6: a
// thin gin HTTP router translating one POST-per-channel to the core
// components, plus an SSE endpoint for the event bus. No business logic
// lives here — every handler is a direct call into storage/runtime/mcpmux.
package bridge

import (
	"context"
	"net/http"
	"runtime"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/agentcore/deskrt/internal/apperr"
	"github.com/agentcore/deskrt/internal/config"
	"github.com/agentcore/deskrt/internal/mcpmux"
	agentrt "github.com/agentcore/deskrt/internal/runtime"
	"github.com/agentcore/deskrt/internal/storage"
	"github.com/agentcore/deskrt/pkg/deskrt/conversation"
)

// Bridge wires storage, the worker manager, the MCP multiplexer, and the
// event bus into a gin router exposing spec §6's channel families.
type Bridge struct {
	store *storage.Store
	mgr   *agentrt.Manager
	mux   *mcpmux.Multiplexer
	bus   *EventBus
	cfg   *config.Config
}

// New builds a Bridge. cfg may be mutated by updateSystemInfo; callers own
// persisting it back to disk if desired.
func New(store *storage.Store, mgr *agentrt.Manager, mux *mcpmux.Multiplexer, bus *EventBus, cfg *config.Config) *Bridge {
	return &Bridge{store: store, mgr: mgr, mux: mux, bus: bus, cfg: cfg}
}

// Router builds the gin.Engine. Routes are POST-per-channel to match the
// "(channel, payload) -> reply" shape of spec §6 uniformly, except the SSE
// stream endpoints which are GET.
func (b *Bridge) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/v1/conversation/create", b.handleCreate)
	r.POST("/v1/conversation/createWithConversation", b.handleCreateWithConversation)
	r.POST("/v1/conversation/get", b.handleGet)
	r.POST("/v1/conversation/getAssociateConversation", b.handleGetAssociateConversation)
	r.POST("/v1/conversation/remove", b.handleRemove)
	r.POST("/v1/conversation/update", b.handleUpdate)
	r.POST("/v1/conversation/reset", b.handleReset)
	r.POST("/v1/conversation/stop", b.handleStop)
	r.POST("/v1/conversation/sendMessage", b.handleSendMessage)
	r.POST("/v1/conversation/confirmMessage", b.handleConfirmMessage)
	r.POST("/v1/conversation/reloadContext", b.handleReloadContext)
	r.GET("/v1/conversation/responseStream", b.handleResponseStream)
	r.POST("/v1/conversation/getWorkspace", b.handleGetWorkspace)
	r.GET("/v1/conversation/responseSearchWorkSpace", b.handleResponseSearchWorkSpace)

	r.POST("/v1/db/getConversationMessages", b.handleGetConversationMessages)
	r.POST("/v1/db/getUserConversations", b.handleGetUserConversations)

	r.POST("/v1/mcp/getAgentMcpConfigs", b.handleGetAgentMcpConfigs)
	r.POST("/v1/mcp/testMcpConnection", b.handleTestMcpConnection)
	r.POST("/v1/mcp/syncMcpToAgents", b.handleSyncMcpToAgents)
	r.POST("/v1/mcp/removeMcpFromAgents", b.handleRemoveMcpFromAgents)

	r.POST("/v1/system/systemInfo", b.handleSystemInfo)
	r.POST("/v1/system/updateSystemInfo", b.handleUpdateSystemInfo)

	return r
}

func reply(c *gin.Context, data any, err error) {
	r := apperr.ToReply(data, err)
	status := http.StatusOK
	if !r.Success {
		status = statusFor(err)
	}
	c.JSON(status, r)
}

func statusFor(err error) int {
	switch {
	case apperr.Is(err, apperr.NotFound):
		return http.StatusNotFound
	case apperr.Is(err, apperr.Busy):
		return http.StatusConflict
	case apperr.Is(err, apperr.Unsupported):
		return http.StatusNotImplemented
	case apperr.Is(err, apperr.Auth):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// --- conversation family -----------------------------------------------

type createRequest struct {
	Name  string               `json:"name"`
	Type  conversation.Type    `json:"type"`
	Model string               `json:"model"`
	Extra conversation.Extra   `json:"extra"`
}

func (b *Bridge) handleCreate(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		reply(c, nil, err)
		return
	}
	conv, err := b.store.CreateConversation(c.Request.Context(), conversation.Conversation{
		ID: uuid.NewString(), Name: req.Name, Type: req.Type, Model: req.Model, Extra: req.Extra,
		Status: conversation.StatusPending,
	})
	reply(c, conv, err)
}

type createWithConversationRequest struct {
	createRequest
	SourceConversationID string `json:"sourceConversationId"`
}

// handleCreateWithConversation creates a new conversation and, when
// sourceConversationId is set, migrates the source's messages then deletes
// the source after an integrity check (message count matches).
func (b *Bridge) handleCreateWithConversation(c *gin.Context) {
	var req createWithConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		reply(c, nil, err)
		return
	}
	ctx := c.Request.Context()
	newConv, err := b.store.CreateConversation(ctx, conversation.Conversation{
		ID: uuid.NewString(), Name: req.Name, Type: req.Type, Model: req.Model, Extra: req.Extra,
		Status: conversation.StatusPending,
	})
	if err != nil {
		reply(c, nil, err)
		return
	}
	if req.SourceConversationID != "" {
		if err := b.migrateConversation(ctx, req.SourceConversationID, newConv.ID); err != nil {
			reply(c, nil, err)
			return
		}
	}
	reply(c, newConv, nil)
}

func (b *Bridge) migrateConversation(ctx context.Context, sourceID, destID string) error {
	const pageSize = 500
	moved := 0
	for page := 1; ; page++ {
		batch, err := b.store.GetConversationMessages(ctx, sourceID, page, pageSize)
		if err != nil {
			return err
		}
		for _, m := range batch.Data {
			m.ID = uuid.NewString()
			m.ConversationID = destID
			if err := b.store.InsertMessage(ctx, m); err != nil {
				return err
			}
			moved++
		}
		if !batch.HasMore {
			break
		}
	}
	check, err := b.store.GetConversationMessages(ctx, destID, 1, 1)
	if err != nil {
		return err
	}
	if check.Total != moved {
		return apperr.Storage
	}
	return b.store.DeleteConversation(ctx, sourceID)
}

func (b *Bridge) handleGet(c *gin.Context) {
	id := c.Query("id")
	conv, err := b.store.GetConversation(c.Request.Context(), id)
	reply(c, conv, err)
}

// handleGetAssociateConversation returns conversations sharing the same
// workspace as id.
func (b *Bridge) handleGetAssociateConversation(c *gin.Context) {
	id := c.Query("id")
	ctx := c.Request.Context()
	conv, err := b.store.GetConversation(ctx, id)
	if err != nil {
		reply(c, nil, err)
		return
	}
	page, err := b.store.GetUserConversations(ctx, "system", 1, 1000)
	if err != nil {
		reply(c, nil, err)
		return
	}
	var associated []conversation.Conversation
	for _, other := range page.Data {
		if other.ID != conv.ID && other.Extra.Workspace == conv.Extra.Workspace {
			associated = append(associated, other)
		}
	}
	reply(c, associated, nil)
}

func (b *Bridge) handleRemove(c *gin.Context) {
	id := c.Query("id")
	b.mgr.Kill(id)
	err := b.store.DeleteConversation(c.Request.Context(), id)
	reply(c, nil, err)
}

func (b *Bridge) handleUpdate(c *gin.Context) {
	id := c.Query("id")
	var updates conversation.Updates
	if err := c.ShouldBindJSON(&updates); err != nil {
		reply(c, nil, err)
		return
	}
	updated, modelChanged, err := b.store.UpdateConversation(c.Request.Context(), id, updates)
	if err == nil {
		b.mgr.NotifyUpdated(id, modelChanged)
	}
	reply(c, updated, err)
}

// handleReset implements reset(id) == kill(id); reset() with no id == clear().
func (b *Bridge) handleReset(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		b.mgr.Clear()
	} else {
		b.mgr.Kill(id)
	}
	reply(c, nil, nil)
}

func (b *Bridge) handleStop(c *gin.Context) {
	id := c.Query("id")
	w, ok := b.mgr.GetTaskByID(id)
	if !ok {
		reply(c, nil, apperr.NotFound)
		return
	}
	err := w.Stop(c.Request.Context())
	reply(c, nil, err)
}

type sendMessageRequest struct {
	ID        string   `json:"id"`
	Input     string   `json:"input"`
	MsgID     string   `json:"msgId"`
	Files     []string `json:"files"`
	LoadingID string   `json:"loadingId"`
}

func (b *Bridge) handleSendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		reply(c, nil, err)
		return
	}
	ctx := c.Request.Context()
	w, err := b.mgr.GetTaskByIDRollbackBuild(ctx, req.ID)
	if err != nil {
		reply(c, nil, err)
		return
	}
	err = w.SendMessage(ctx, agentrt.SendInput{Input: req.Input, MsgID: req.MsgID, Files: req.Files, LoadingID: req.LoadingID})
	reply(c, nil, err)
}

type confirmMessageRequest struct {
	ID         string `json:"id"`
	ConfirmKey string `json:"confirmKey"`
	MsgID      string `json:"msgId"`
	CallID     string `json:"callId"`
}

func (b *Bridge) handleConfirmMessage(c *gin.Context) {
	var req confirmMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		reply(c, nil, err)
		return
	}
	w, ok := b.mgr.GetTaskByID(req.ID)
	if !ok {
		reply(c, nil, apperr.NotFound)
		return
	}
	err := w.ConfirmMessage(c.Request.Context(), agentrt.ConfirmInput{ConfirmKey: req.ConfirmKey, MsgID: req.MsgID, CallID: req.CallID})
	reply(c, nil, err)
}

func (b *Bridge) handleReloadContext(c *gin.Context) {
	id := c.Query("id")
	w, ok := b.mgr.GetTaskByID(id)
	if !ok {
		reply(c, nil, apperr.NotFound)
		return
	}
	err := w.ReloadContext(c.Request.Context())
	reply(c, nil, err)
}

// handleResponseStream is the SSE emitter for per-conversation events.
func (b *Bridge) handleResponseStream(c *gin.Context) {
	convID := c.Query("id")
	events, cancel := b.bus.Subscribe(convID)
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	ctx := c.Request.Context()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent("message", ev)
			c.Writer.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bridge) handleGetWorkspace(c *gin.Context) {
	id := c.Query("id")
	conv, err := b.store.GetConversation(c.Request.Context(), id)
	if err != nil {
		reply(c, nil, err)
		return
	}
	reply(c, conv.Extra.Workspace, nil)
}

// handleResponseSearchWorkSpace streams filesystem-search progress events.
// Each search runs under its own request's context and stops when that
// client disconnects; starting a new search does not cancel an earlier one
// that is still running.
func (b *Bridge) handleResponseSearchWorkSpace(c *gin.Context) {
	root := c.Query("root")
	query := c.Query("query")
	ctx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	results, errs := searchWorkspace(ctx, root, query)
	for {
		select {
		case path, ok := <-results:
			if !ok {
				return
			}
			c.SSEvent("match", gin.H{"path": path})
			c.Writer.Flush()
		case err := <-errs:
			if err != nil {
				c.SSEvent("error", gin.H{"error": err.Error()})
				c.Writer.Flush()
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

// --- database family -----------------------------------------------------

func (b *Bridge) handleGetConversationMessages(c *gin.Context) {
	id := c.Query("id")
	page := atoiDefault(c.Query("page"), 1)
	pageSize := atoiDefault(c.Query("pageSize"), 50)
	msgs, err := b.store.GetConversationMessages(c.Request.Context(), id, page, pageSize)
	reply(c, msgs, err)
}

func (b *Bridge) handleGetUserConversations(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		userID = "system"
	}
	page := atoiDefault(c.Query("page"), 1)
	pageSize := atoiDefault(c.Query("pageSize"), 20)
	convs, err := b.store.GetUserConversations(c.Request.Context(), userID, page, pageSize)
	reply(c, convs, err)
}

// --- mcp family ------------------------------------------------------------

type agentsRequest struct {
	Agents []string `json:"agents"`
}

func (b *Bridge) handleGetAgentMcpConfigs(c *gin.Context) {
	var req agentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		reply(c, nil, err)
		return
	}
	configs, err := b.mux.GetAgentMcpConfigs(c.Request.Context(), req.Agents)
	reply(c, configs, err)
}

type testMcpConnectionRequest struct {
	Agent  string            `json:"agent"`
	Server mcpmux.MCPServer `json:"server"`
}

func (b *Bridge) handleTestMcpConnection(c *gin.Context) {
	var req testMcpConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		reply(c, nil, err)
		return
	}
	result, ok := b.mux.TestMcpConnection(c.Request.Context(), req.Agent, req.Server)
	if !ok {
		reply(c, nil, apperr.NotFound)
		return
	}
	reply(c, result, nil)
}

type syncMcpRequest struct {
	Servers []mcpmux.MCPServer `json:"servers"`
	Agents  []string            `json:"agents"`
}

func (b *Bridge) handleSyncMcpToAgents(c *gin.Context) {
	var req syncMcpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		reply(c, nil, err)
		return
	}
	outcomes, err := b.mux.SyncMcpToAgents(c.Request.Context(), req.Servers, req.Agents)
	reply(c, outcomes, err)
}

type removeMcpRequest struct {
	Name   string   `json:"name"`
	Agents []string `json:"agents"`
}

func (b *Bridge) handleRemoveMcpFromAgents(c *gin.Context) {
	var req removeMcpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		reply(c, nil, err)
		return
	}
	outcomes, err := b.mux.RemoveMcpFromAgents(c.Request.Context(), req.Name, req.Agents)
	reply(c, outcomes, err)
}

// --- system family -----------------------------------------------------

func (b *Bridge) handleSystemInfo(c *gin.Context) {
	info := b.cfg.System
	if info.Platform == "" {
		info.Platform = runtime.GOOS
	}
	if info.Arch == "" {
		info.Arch = runtime.GOARCH
	}
	reply(c, info, nil)
}

func (b *Bridge) handleUpdateSystemInfo(c *gin.Context) {
	var info config.SystemInfo
	if err := c.ShouldBindJSON(&info); err != nil {
		reply(c, nil, err)
		return
	}
	b.cfg.System = info
	reply(c, info, nil)
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
