package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/spark-chat-backend/internal/domain"
	"github.com/tbourn/spark-chat-backend/internal/services"
)

// CreateThreadRequest is the payload for POST /threads.
type CreateThreadRequest struct {
	Title string `json:"title" example:"Trip ideas"`
}

// AppendMessageRequest is the payload for POST /threads/{title}/messages.
type AppendMessageRequest struct {
	Role    string `json:"role"    example:"user" enums:"user,assistant"`
	Content string `json:"content" example:"Somewhere warm in March?"`
}

// ReplyRequest is the payload for POST /threads/{title}/replies.
type ReplyRequest struct {
	Prompt string `json:"prompt" example:"Somewhere warm in March?"`
}

// ThreadsResponse wraps the caller's threads in storage order.
type ThreadsResponse struct {
	Threads []domain.Thread `json:"threads"`
}

// ListThreads godoc
// @ID          listThreads
// @Summary     List the caller's threads
// @Description Threads in creation order with their messages. Supports If-None-Match against a weak ETag.
// @Tags        Threads
// @Produce     json
// @Security    BearerAuth
// @Param       If-None-Match  header    string  false  "ETag from a previous response"
// @Success     200  {object}  handlers.ThreadsResponse
// @Success     304  {string}  string  "Not Modified"
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     503  {object}  handlers.ErrorResponse
// @Router      /threads [get]
func (h *Handlers) ListThreads(c *gin.Context) {
	ctx := c.Request.Context()
	uid := currentUser(c)

	if v, at, err := h.chats.ThreadsVersion(ctx, uid); err == nil && at != nil {
		if notModified(c, fmt.Sprintf(`W/"t-%d-%d"`, v, at.UnixNano())) {
			return
		}
	}

	threads, err := h.chats.ListThreads(ctx, uid)
	switch {
	case errors.Is(err, services.ErrUserNotFound):
		threads = []domain.Thread{}
	case err != nil:
		failErr(c, err)
		return
	}
	if threads == nil {
		threads = []domain.Thread{}
	}
	ok(c, http.StatusOK, ThreadsResponse{Threads: threads})
}

// CreateThread godoc
// @ID          createThread
// @Summary     Start a thread
// @Description Appends an empty thread. Titles are normalized; duplicates are allowed and lookups return the first.
// @Tags        Threads
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.CreateThreadRequest  true  "Title"
// @Success     201   {object}  domain.Thread
// @Failure     400   {object}  handlers.ErrorResponse  "Empty or oversized title"
// @Failure     401   {object}  handlers.ErrorResponse
// @Failure     404   {object}  handlers.ErrorResponse  "No profile"
// @Failure     503   {object}  handlers.ErrorResponse
// @Router      /threads [post]
func (h *Handlers) CreateThread(c *gin.Context) {
	var req CreateThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	th, err := h.chats.CreateThread(writeCtx(c), currentUser(c), req.Title)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, th)
}

// GetThread godoc
// @ID          getThread
// @Summary     Get a thread by title
// @Tags        Threads
// @Produce     json
// @Security    BearerAuth
// @Param       title  path      string  true  "Thread title (URL-escaped)"
// @Success     200    {object}  domain.Thread
// @Failure     401    {object}  handlers.ErrorResponse
// @Failure     404    {object}  handlers.ErrorResponse  "No such thread"
// @Failure     503    {object}  handlers.ErrorResponse
// @Router      /threads/{title} [get]
func (h *Handlers) GetThread(c *gin.Context) {
	th, err := h.chats.GetThread(c.Request.Context(), currentUser(c), c.Param("title"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, th)
}

// AppendMessage godoc
// @ID          appendMessage
// @Summary     Append a message to a thread
// @Tags        Threads
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       title  path      string                          true  "Thread title (URL-escaped)"
// @Param       body   body      handlers.AppendMessageRequest  true  "Message"
// @Success     201    {object}  domain.Message
// @Failure     400    {object}  handlers.ErrorResponse  "Bad role or content"
// @Failure     401    {object}  handlers.ErrorResponse
// @Failure     404    {object}  handlers.ErrorResponse  "No such thread"
// @Failure     409    {object}  handlers.ErrorResponse  "Concurrent write"
// @Failure     503    {object}  handlers.ErrorResponse
// @Router      /threads/{title}/messages [post]
func (h *Handlers) AppendMessage(c *gin.Context) {
	var req AppendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	msg, err := h.chats.AppendMessage(writeCtx(c), currentUser(c), c.Param("title"),
		domain.Message{Role: req.Role, Content: req.Content})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, msg)
}

// Reply godoc
// @ID          reply
// @Summary     Ask the assistant
// @Description Stores the prompt as a user message, generates a completion and stores it as the assistant message. The user message is kept if completion fails.
// @Tags        Threads
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       title  path      string                 true  "Thread title (URL-escaped)"
// @Param       body   body      handlers.ReplyRequest  true  "Prompt"
// @Success     201    {object}  domain.Message
// @Failure     400    {object}  handlers.ErrorResponse  "Empty prompt"
// @Failure     401    {object}  handlers.ErrorResponse
// @Failure     404    {object}  handlers.ErrorResponse  "No such thread"
// @Failure     409    {object}  handlers.ErrorResponse  "Concurrent write"
// @Failure     501    {object}  handlers.ErrorResponse  "Replies disabled"
// @Failure     502    {object}  handlers.ErrorResponse  "Empty completion"
// @Failure     503    {object}  handlers.ErrorResponse  "Model or storage unavailable"
// @Router      /threads/{title}/replies [post]
func (h *Handlers) Reply(c *gin.Context) {
	var req ReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	msg, err := h.chats.Converse(writeCtx(c), currentUser(c), c.Param("title"), req.Prompt)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, msg)
}
