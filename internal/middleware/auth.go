package middleware

import (
	"context"
	"strings"

	apperrors "moltlink/internal/errors"
	"moltlink/internal/logging"
	"moltlink/internal/metrics"
	"moltlink/internal/models"

	"github.com/gin-gonic/gin"
)

const CurrentAgentKey = "agent"

// Authenticator resolves an API key to an agent.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (*models.Agent, error)
}

// Abort writes err as the JSON error body and stops the chain. Every error
// response goes through here so it is counted and logged once. Internal errors
// are logged with their cause; the client only sees the message.
func Abort(c *gin.Context, err error) {
	se := apperrors.AsStructuredError(err)
	metrics.HTTPErrorsTotal.WithLabelValues(string(se.Type)).Inc()

	log := logging.FromContext(c.Request.Context())
	if se.Type == apperrors.TypeInternal {
		log.Error("request failed", "error", se, "path", c.Request.URL.Path)
	} else {
		log.Debug("request rejected", "type", se.Type, "message", se.Message)
	}
	c.AbortWithStatusJSON(se.HTTPStatus(), se.ToResponse())
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// LoadAgent resolves the Authorization bearer key and puts the agent in the context.
// Requests without the header continue anonymously; a bad key is rejected.
func LoadAgent(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}
		key, ok := bearerToken(header)
		if !ok {
			Abort(c, apperrors.UnauthorizedError("authorization header must be: Bearer <api_key>"))
			return
		}

		agent, err := auth.Authenticate(c.Request.Context(), key)
		if err != nil {
			Abort(c, err)
			return
		}
		c.Set(CurrentAgentKey, agent)
		c.Next()
	}
}

// AuthRequired ensures an agent is authenticated
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := CurrentAgent(c); !ok {
			Abort(c, apperrors.UnauthorizedError("missing api key"))
			return
		}
		c.Next()
	}
}

func CurrentAgent(c *gin.Context) (*models.Agent, bool) {
	v, ok := c.Get(CurrentAgentKey)
	if !ok {
		return nil, false
	}
	agent, ok := v.(*models.Agent)
	return agent, ok && agent != nil
}

// CurrentAgentID returns 0 for anonymous requests.
func CurrentAgentID(c *gin.Context) uint {
	if agent, ok := CurrentAgent(c); ok {
		return agent.ID
	}
	return 0
}
