package opshttp

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"nautgate/internal/coordinator"
	"nautgate/internal/fault"
)

// Router exposes the operation surface over HTTP. Every operation goes
// through a single POST endpoint so the wire shape stays uniform.
type Router struct {
	core *coordinator.Coordinator
}

func NewRouter(core *coordinator.Coordinator) *Router {
	return &Router{core: core}
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("", r.handleListOps)
	group.POST("/:name", r.handleInvoke)
}

func (r *Router) handleListOps(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "success", "operations": r.core.Operations()})
}

func (r *Router) handleInvoke(c *gin.Context) {
	name := c.Param("name")
	args, err := readArgs(c)
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := r.core.Invoke(c.Request.Context(), name, args)
	if err != nil {
		writeError(c, err)
		return
	}
	payload := gin.H{"status": "success"}
	switch v := res.(type) {
	case nil:
	case map[string]any:
		for k, val := range v {
			payload[k] = val
		}
	default:
		payload["result"] = v
	}
	c.JSON(http.StatusOK, payload)
}

// readArgs accepts an empty body, a JSON object, or nothing at all. Anything
// else is a validation failure, never a transport 400 with a raw message.
func readArgs(c *gin.Context) (map[string]any, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, fault.Wrap(fault.Validation, err, "unreadable request body")
	}
	if len(body) == 0 {
		return map[string]any{}, nil
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		return nil, fault.New(fault.Validation, "request body must be a JSON object")
	}
	args, ok := parsed.Value().(map[string]any)
	if !ok {
		return nil, fault.New(fault.Validation, "request body must be a JSON object")
	}
	return args, nil
}

func writeError(c *gin.Context, err error) {
	fe := fault.Classify(err)
	c.JSON(statusFor(fe.Category), gin.H{
		"status":    "error",
		"category":  string(fe.Category),
		"retryable": fe.Retryable,
		"message":   fe.Message,
	})
}

func statusFor(cat fault.Category) int {
	switch cat {
	case fault.Validation:
		return http.StatusBadRequest
	case fault.Auth:
		return http.StatusUnauthorized
	case fault.Session, fault.OrderBusy:
		return http.StatusConflict
	case fault.Connection:
		return http.StatusBadGateway
	case fault.Timeout:
		return http.StatusGatewayTimeout
	case fault.Trading:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
