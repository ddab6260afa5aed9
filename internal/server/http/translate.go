package httpserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

const defaultContentType = "application/json; charset=utf-8"

// cachedResponse is what the cache stores for a proxied GET:
// upstream status, the normalized header set and the buffered body.
type cachedResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body"`
}

// translateHeaders normalizes the outbound header set: upstream
// content-type (or the JSON default), permissive CORS, and a cache-control
// whose max-age advertises the cache TTL.
func translateHeaders(upstream http.Header, ttl time.Duration) map[string]string {
	ct := ""
	if upstream != nil {
		ct = upstream.Get(fiber.HeaderContentType)
	}
	if ct == "" {
		ct = defaultContentType
	}
	return map[string]string{
		fiber.HeaderContentType:               ct,
		fiber.HeaderAccessControlAllowOrigin:  "*",
		fiber.HeaderAccessControlAllowHeaders: "*",
		fiber.HeaderCacheControl:              fmt.Sprintf("public, max-age=%d", int(ttl.Seconds())),
	}
}

// writeResponse writes headers, status and body; every pipeline branch
// terminates through exactly one write.
func writeResponse(c *fiber.Ctx, status int, headers map[string]string, body []byte) error {
	for k, v := range headers {
		c.Set(k, v)
	}
	c.Status(status)
	return c.Send(body)
}
