package main

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"repairflow/auth"
	"repairflow/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	ctxKeyPrincipal = "principal"

	headerRequestID = "X-Request-ID"

	errMissingToken = "missing token"
	errInvalidToken = "invalid token"
)

// requestContext assigns a request id and exposes it to loggers downstream.
func requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(headerRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(headerRequestID, requestID)
		ctx := context.WithValue(c.Request.Context(), logger.RequestIDKey, requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// requestLogger logs HTTP requests with timing.
func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		log.WithContext(c.Request.Context()).HTTPRequest(c.Request.Method, path, c.Writer.Status(), float64(latency.Milliseconds()), c.ClientIP())
	}
}

// limiterIdleTTL is how long an IP's bucket survives without requests. A
// bucket idle that long has refilled, so dropping it loses no state.
const limiterIdleTTL = 10 * time.Minute

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipRateLimiter keeps one token bucket per client IP and prunes idle ones.
type ipRateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*ipLimiter
	lastPrune time.Time
	rate      rate.Limit
	burst     int
	log       *logger.Logger
	now       func() time.Time
}

func newIPRateLimiter(r rate.Limit, burst int, log *logger.Logger) *ipRateLimiter {
	return &ipRateLimiter{
		limiters:  make(map[string]*ipLimiter),
		lastPrune: time.Now(),
		rate:      r,
		burst:     burst,
		log:       log,
		now:       time.Now,
	}
}

func (i *ipRateLimiter) allow(ip string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.now()
	if now.Sub(i.lastPrune) >= limiterIdleTTL {
		for key, l := range i.limiters {
			if now.Sub(l.lastSeen) >= limiterIdleTTL {
				delete(i.limiters, key)
			}
		}
		i.lastPrune = now
	}

	l, ok := i.limiters[ip]
	if !ok {
		l = &ipLimiter{limiter: rate.NewLimiter(i.rate, i.burst)}
		i.limiters[ip] = l
	}
	l.lastSeen = now
	return l.limiter.AllowN(now, 1)
}

func (i *ipRateLimiter) size() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.limiters)
}

func (i *ipRateLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !i.allow(ip) {
			if i.log != nil {
				i.log.RateLimitExceeded(ip, c.Request.URL.Path)
			}
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded", Kind: "rate_limited"})
			return
		}
		c.Next()
	}
}

// requireAuth validates the bearer token and stores the principal.
func requireAuth(tokens tokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := extractBearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortUnauthorized(c, errMissingToken)
			return
		}
		p, err := tokens.VerifyToken(raw)
		if err != nil {
			abortUnauthorized(c, errInvalidToken)
			return
		}

		c.Set(ctxKeyPrincipal, p)
		ctx := context.WithValue(c.Request.Context(), logger.ActorIDKey, p.SubjectID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// requireRole aborts with 403 unless the principal holds one of roles.
func requireRole(roles ...auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principalFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, errorBody{Error: "forbidden", Kind: "forbidden"})
			return
		}
		for _, r := range roles {
			if p.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, errorBody{Error: "forbidden", Kind: "forbidden"})
	}
}

func principalFrom(c *gin.Context) (auth.Principal, bool) {
	v, ok := c.Get(ctxKeyPrincipal)
	if !ok {
		return auth.Principal{}, false
	}
	p, ok := v.(auth.Principal)
	return p, ok
}

func extractBearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return raw, raw != ""
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: msg, Kind: "unauthorized"})
}
