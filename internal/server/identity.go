package server

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/apperr"
	"github.com/zulandar/switchboard/internal/models"
)

// Identity headers. Authentication happens in front of this service; the
// gateway forwards the authenticated caller in these headers.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

// Caller kinds carried in HeaderActorRole.
const (
	ActorUser     = "user"
	ActorOperator = "operator"
)

const actorKey = "actor"

type actor struct {
	ID   string
	Kind string
}

func actorOf(c *gin.Context) actor {
	v, _ := c.Get(actorKey)
	a, _ := v.(actor)
	return a
}

// identify rejects requests without a caller identity.
func (s *Server) identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderActorID)
		if id == "" {
			s.fail(c, fmt.Errorf("server: missing %s header: %w", HeaderActorID, apperr.ErrUnauthorized))
			return
		}
		kind := c.GetHeader(HeaderActorRole)
		if kind == "" {
			kind = ActorOperator
		}
		if kind != ActorUser && kind != ActorOperator {
			s.fail(c, fmt.Errorf("server: unknown caller kind %q: %w", kind, apperr.ErrUnauthorized))
			return
		}
		c.Set(actorKey, actor{ID: id, Kind: kind})
		c.Next()
	}
}

func (s *Server) requireKind(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if actorOf(c).Kind != kind {
			s.fail(c, fmt.Errorf("server: %s only: %w", kind, apperr.ErrForbidden))
			return
		}
		c.Next()
	}
}

// requireAdmin checks the caller against the operator table; the role
// header alone never grants admin rights.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		a := actorOf(c)
		if a.Kind != ActorOperator {
			s.fail(c, fmt.Errorf("server: admin only: %w", apperr.ErrForbidden))
			return
		}
		op, err := s.opts.Operators.Get(c.Request.Context(), a.ID)
		if errors.Is(err, apperr.ErrNotFound) {
			s.fail(c, fmt.Errorf("server: unknown operator %s: %w", a.ID, apperr.ErrUnauthorized))
			return
		}
		if err != nil {
			s.fail(c, err)
			return
		}
		if !op.IsActive || op.Role != models.RoleAdmin {
			s.fail(c, fmt.Errorf("server: %s is not an admin: %w", a.ID, apperr.ErrForbidden))
			return
		}
		c.Next()
	}
}
