package middleware

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"

	apperrors "github.com/jwalitptl/scheduling-api/pkg/errors"
	"github.com/jwalitptl/scheduling-api/pkg/httputil"
)

const (
	HeaderIdempotencyKey   = "Idempotency-Key"
	HeaderIdempotentReplay = "Idempotent-Replayed"
)

type storedResponse struct {
	status      int
	contentType string
	body        []byte
}

// inFlight marks a key whose first request has not finished yet
type inFlight struct{}

type captureWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency replays the stored response for a repeated Idempotency-Key on
// mutating requests. Server errors are not stored so the caller can retry them.
type Idempotency struct {
	responses *cache.Cache
}

func NewIdempotency(ttl time.Duration) *Idempotency {
	return &Idempotency{responses: cache.New(ttl, 2*ttl)}
}

func (m *Idempotency) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" || c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
			c.Next()
			return
		}
		if len(key) > 255 {
			httputil.RespondWithError(c, apperrors.NewValidation("Idempotency-Key must be at most 255 characters"))
			return
		}

		// scope keys to caller and route so distinct operations never collide
		scoped := clientKey(c) + "|" + c.Request.Method + "|" + c.Request.URL.Path + "|" + key

		if err := m.responses.Add(scoped, inFlight{}, cache.DefaultExpiration); err != nil {
			cached, ok := m.responses.Get(scoped)
			if !ok {
				c.Next()
				return
			}
			resp, done := cached.(*storedResponse)
			if !done {
				httputil.RespondWithError(c, &apperrors.AppError{
					Code:    apperrors.ErrIdempotencyInProgress,
					Message: "a request with this Idempotency-Key is still in progress",
				})
				return
			}
			c.Header(HeaderIdempotentReplay, "true")
			c.Data(resp.status, resp.contentType, resp.body)
			c.Abort()
			return
		}

		w := &captureWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = w

		stored := false
		defer func() {
			if !stored {
				m.responses.Delete(scoped)
			}
		}()

		c.Next()

		status := w.Status()
		if status >= http.StatusInternalServerError {
			return
		}
		stored = true
		m.responses.SetDefault(scoped, &storedResponse{
			status:      status,
			contentType: w.Header().Get("Content-Type"),
			body:        w.body.Bytes(),
		})
	}
}
