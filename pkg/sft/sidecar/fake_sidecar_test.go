package sidecar

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/sgl-project/sft-agent/pkg/sft"
)

// fakeSidecar records every request body and replays scripted /status answers.
type fakeSidecar struct {
	mu       sync.Mutex
	calls    []string
	bodies   map[string]json.RawMessage
	statuses []Response
	finetune int
	metrics  string

	server *httptest.Server
}

func newFakeSidecar() *fakeSidecar {
	gin.SetMode(gin.TestMode)
	f := &fakeSidecar{
		bodies:   map[string]json.RawMessage{},
		finetune: http.StatusAccepted,
		metrics:  `{"train_loss":0.42}`,
	}

	router := gin.New()
	router.Use(f.record)
	router.GET("/status", f.status)
	router.POST("/load", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"model_id": "m-1"})
	})
	router.POST("/adapters", func(c *gin.Context) {
		c.JSON(http.StatusOK, sft.AdapterInfo{TrainableParams: 29933568, TotalParams: 3115872256})
	})
	router.POST("/chat_template", func(c *gin.Context) {
		var req chatTemplateRequest
		if err := json.Unmarshal(f.body("/chat_template"), &req); err != nil {
			c.JSON(http.StatusBadRequest, Response{Status: "ERROR", Message: err.Error()})
			return
		}
		texts := make([]string, len(req.Conversations))
		for i, conv := range req.Conversations {
			for _, t := range conv {
				texts[i] += "<" + t.Role + ">" + t.Content
			}
		}
		c.JSON(http.StatusOK, chatTemplateResponse{Texts: texts})
	})
	router.POST("/finetune", func(c *gin.Context) {
		if f.finetune == http.StatusUnprocessableEntity {
			c.JSON(f.finetune, Response{Status: "ERROR", Message: "Data error: line 3 has no text"})
			return
		}
		c.JSON(f.finetune, Response{Status: StatusRunning})
	})
	router.POST("/save", func(c *gin.Context) {
		c.JSON(http.StatusOK, Response{Status: "OK"})
	})
	router.POST("/export", func(c *gin.Context) {
		c.JSON(http.StatusOK, sft.ExportResult{Path: "/out/unsloth.Q4_K_M.gguf"})
	})
	router.GET("/metrics", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json", []byte(f.metrics))
	})
	router.POST("/terminate", func(c *gin.Context) {
		c.JSON(http.StatusOK, Response{Status: "OK"})
	})

	f.server = httptest.NewServer(router)
	return f
}

func (f *fakeSidecar) record(c *gin.Context) {
	body, _ := c.GetRawData()
	f.mu.Lock()
	f.calls = append(f.calls, c.Request.Method+" "+c.Request.URL.Path)
	if len(body) > 0 {
		f.bodies[c.Request.URL.Path] = body
	}
	f.mu.Unlock()
	c.Next()
}

func (f *fakeSidecar) status(c *gin.Context) {
	f.mu.Lock()
	resp := Response{Status: StatusReady}
	if len(f.statuses) > 0 {
		resp = f.statuses[0]
		if len(f.statuses) > 1 {
			f.statuses = f.statuses[1:]
		}
	}
	f.mu.Unlock()
	c.JSON(http.StatusOK, resp)
}

func (f *fakeSidecar) body(path string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []byte(f.bodies[path])
}

func (f *fakeSidecar) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
