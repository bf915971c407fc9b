package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/skylark-media/atelier/pkg/config"
	"github.com/skylark-media/atelier/pkg/models"
	"github.com/skylark-media/atelier/pkg/store"
)

// actorHeader carries the impersonated user id on service-bearer calls.
const actorHeader = "X-Actor-User-Id"

// identityKey is the gin context key holding the authenticated Identity.
const identityKey = "atelier.identity"

// Identity is the authenticated caller. Service callers act on behalf of
// UserID, which was validated against the users table.
type Identity struct {
	UserID  uuid.UUID
	Service bool
}

// Auth verifies inbound bearers: user tokens are HMAC-signed user ids,
// service calls present the shared internal bearer plus an actor header.
type Auth struct {
	userSecret    []byte
	serviceBearer string
	users         *store.UserStore
}

// NewAuth loads token material from the configured env vars.
func NewAuth(cfg *config.AuthConfig, users *store.UserStore) (*Auth, error) {
	secret := os.Getenv(cfg.UserTokenSecretEnv)
	if secret == "" {
		return nil, fmt.Errorf("user token secret env %s is not set", cfg.UserTokenSecretEnv)
	}
	bearer := os.Getenv(cfg.ServiceBearerEnv)
	if bearer == "" {
		return nil, fmt.Errorf("service bearer env %s is not set", cfg.ServiceBearerEnv)
	}
	return &Auth{userSecret: []byte(secret), serviceBearer: bearer, users: users}, nil
}

// IssueUserToken mints a user bearer: base64url(user_id) "." base64url(mac).
// Exposed for tests and provisioning tooling.
func IssueUserToken(secret []byte, userID uuid.UUID) string {
	id := userID.String()
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString([]byte(id)) + "." +
		base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (a *Auth) verifyUserToken(token string) (uuid.UUID, bool) {
	idPart, sigPart, ok := strings.Cut(token, ".")
	if !ok {
		return uuid.Nil, false
	}
	idRaw, err := base64.RawURLEncoding.DecodeString(idPart)
	if err != nil {
		return uuid.Nil, false
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil {
		return uuid.Nil, false
	}
	mac := hmac.New(sha256.New, a.userSecret)
	mac.Write(idRaw)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(string(idRaw))
	if err != nil {
		return uuid.Nil, false
	}
	return userID, true
}

// Middleware authenticates the request and stores the Identity in the
// context. Auth failures use the stable error codes of the taxonomy.
func (a *Auth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			abortWithCode(c, http.StatusUnauthorized, models.CodeMissingToken,
				"a bearer token is required")
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(a.serviceBearer)) == 1 {
			actor := c.GetHeader(actorHeader)
			if actor == "" {
				abortWithCode(c, http.StatusBadRequest, models.CodeMissingActorUserID,
					"service calls must set "+actorHeader)
				return
			}
			userID, err := uuid.Parse(actor)
			if err != nil {
				abortWithCode(c, http.StatusBadRequest, models.CodeInvalidUUID,
					actorHeader+" is not a UUID")
				return
			}
			exists, err := a.users.Exists(c.Request.Context(), userID)
			if err != nil {
				abortWithCode(c, http.StatusInternalServerError, "internal_error",
					"validating actor failed")
				return
			}
			if !exists {
				abortWithCode(c, http.StatusUnauthorized, models.CodeActorUserNotFound,
					"actor user does not exist")
				return
			}
			c.Set(identityKey, Identity{UserID: userID, Service: true})
			c.Next()
			return
		}

		userID, ok := a.verifyUserToken(token)
		if !ok {
			abortWithCode(c, http.StatusUnauthorized, models.CodeInvalidToken,
				"bearer token is not valid")
			return
		}
		c.Set(identityKey, Identity{UserID: userID})
		c.Next()
	}
}

// identity returns the authenticated caller. Only valid behind Middleware.
func identity(c *gin.Context) Identity {
	id, _ := c.MustGet(identityKey).(Identity)
	return id
}
