package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/zulandar/switchboard/internal/apperr"
	"github.com/zulandar/switchboard/internal/models"
)

// registerRoutes sets up every route on the router.
func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := s.router.Group("/v1", s.identify())

	ops := v1.Group("", s.requireKind(ActorOperator))
	ops.POST("/operators/:id/availability", s.self(), s.handleAvailability)
	ops.POST("/operators/:id/assignment", s.self(), s.handleRequestAssignment)
	ops.POST("/chats/:id/unassign", s.handleUnassign)
	ops.POST("/chats/:id/heartbeat", s.handleHeartbeat)
	ops.POST("/chats/:id/persona-messages", s.handlePersonaMessage)
	if s.opts.Broker != nil {
		ops.GET("/events", s.handleEvents)
	}

	users := v1.Group("", s.requireKind(ActorUser))
	users.POST("/chats", s.handleOpenChat)
	users.POST("/chats/:id/messages", s.handleUserMessage)
	users.POST("/chats/:id/close", s.handleUserClose)
	users.GET("/chats/:id/messages", s.handleListMessages)
	users.GET("/credits", s.handleBalance)

	admin := v1.Group("/admin", s.requireKind(ActorOperator), s.requireAdmin())
	admin.POST("/chats/:id/reassign", s.handleAdminReassign)
	admin.POST("/chats/:id/close", s.handleAdminClose)
	admin.GET("/chats/escalated", s.handleEscalated)
	admin.POST("/users/:id/credits", s.handleGrantCredits)
}

// self limits operator routes to the operator named in the path.
func (s *Server) self() gin.HandlerFunc {
	return func(c *gin.Context) {
		if actorOf(c).ID != c.Param("id") {
			s.fail(c, fmt.Errorf("server: cannot act for operator %s: %w", c.Param("id"), apperr.ErrForbidden))
			return
		}
		c.Next()
	}
}

type availabilityRequest struct {
	Available *bool `json:"available" binding:"required"`
}

func (s *Server) handleAvailability(c *gin.Context) {
	var req availabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	res, err := s.opts.Operators.SetAvailability(c.Request.Context(), c.Param("id"), *req.Available)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": res.Available, "chat": viewChat(res.Chat)})
}

func (s *Server) handleRequestAssignment(c *gin.Context) {
	chat, err := s.opts.Operators.RequestAssignment(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": viewChat(chat)})
}

type reasonRequest struct {
	Reason string `json:"reason" binding:"omitempty,max=200"`
}

func (s *Server) handleUnassign(c *gin.Context) {
	var req reasonRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		s.badRequest(c, err)
		return
	}
	rel, err := s.opts.Recovery.Unassign(c.Request.Context(), c.Param("id"), actorOf(c).ID, req.Reason)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"release": viewRelease(rel)})
}

type heartbeatRequest struct {
	LastActivity *time.Time `json:"last_activity"`
}

func (s *Server) handleHeartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		s.badRequest(c, err)
		return
	}
	var at time.Time
	if req.LastActivity != nil {
		at = req.LastActivity.UTC()
	}
	beat, err := s.opts.Operators.Heartbeat(c.Request.Context(), c.Param("id"), actorOf(c).ID, at)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, beatView{
		LastActivity: beat.LastActivity,
		Status:       beat.Status,
		WarningAt:    beat.WarningAt,
		IdleAt:       beat.IdleAt,
	})
}

type messageRequest struct {
	Content string `json:"content" binding:"required"`
}

func (s *Server) handlePersonaMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	msg, err := s.opts.Billing.SubmitPersonaMessage(c.Request.Context(), c.Param("id"), actorOf(c).ID, req.Content)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": viewMessage(msg)})
}

type openChatRequest struct {
	PersonaID string `json:"persona_id" binding:"required"`
}

func (s *Server) handleOpenChat(c *gin.Context) {
	var req openChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	chat, created, err := s.opts.Chats.Open(c.Request.Context(), actorOf(c).ID, req.PersonaID)
	if err != nil {
		s.fail(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"chat": viewChat(chat)})
}

func (s *Server) handleUserMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	res, err := s.opts.Billing.SubmitUserMessage(c.Request.Context(), c.Param("id"), actorOf(c).ID, req.Content)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":           viewMessage(res.Message),
		"credits_remaining": res.CreditsRemaining,
	})
}

func (s *Server) handleUserClose(c *gin.Context) {
	chat, err := s.opts.Chats.Close(c.Request.Context(), c.Param("id"), actorOf(c).ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": viewChat(chat)})
}

func (s *Server) handleListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	chat, err := s.opts.Chats.Get(ctx, c.Param("id"))
	if err == nil && chat.RealUserID != actorOf(c).ID {
		err = fmt.Errorf("server: chat %s: %w", c.Param("id"), apperr.ErrNotFound)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	msgs, err := s.opts.Billing.Messages(ctx, chat.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]*messageView, 0, len(msgs))
	for i := range msgs {
		out = append(out, viewMessage(&msgs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

func (s *Server) handleBalance(c *gin.Context) {
	bal, err := s.opts.Ledger.Balance(c.Request.Context(), actorOf(c).ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credits": bal})
}

type reassignRequest struct {
	OperatorID string `json:"operator_id" binding:"required"`
	Reason     string `json:"reason" binding:"omitempty,max=200"`
}

func (s *Server) handleAdminReassign(c *gin.Context) {
	var req reassignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	rel, err := s.opts.Recovery.AdminReassign(c.Request.Context(), c.Param("id"), actorOf(c).ID, req.OperatorID, req.Reason)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"release": viewRelease(rel)})
}

func (s *Server) handleAdminClose(c *gin.Context) {
	chat, err := s.opts.Chats.Close(c.Request.Context(), c.Param("id"), "")
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": viewChat(chat)})
}

func (s *Server) handleEscalated(c *gin.Context) {
	chats, err := s.opts.Recovery.Escalated(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": viewChats(chats)})
}

type creditRequest struct {
	Amount int    `json:"amount" binding:"required,min=1,max=100000"`
	Reason string `json:"reason" binding:"omitempty,oneof=purchase grant refund"`
}

func (s *Server) handleGrantCredits(c *gin.Context) {
	var req creditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	if req.Reason == "" {
		req.Reason = models.CreditReasonGrant
	}
	bal, err := s.opts.Ledger.Credit(c.Request.Context(), c.Param("id"), req.Amount, req.Reason)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credits": bal})
}

// bindOptionalJSON binds a JSON body when one was sent.
func bindOptionalJSON(c *gin.Context, dst any) error {
	if c.Request.ContentLength == 0 {
		return binding.Validator.ValidateStruct(dst)
	}
	return c.ShouldBindJSON(dst)
}
