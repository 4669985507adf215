package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
)

// upstream is the fake backend the demo host calls. Latency is jittered so
// the endpoint chart has something to show.
type upstream struct {
	srv      *http.Server
	listener net.Listener
	log      logr.Logger
}

func newUpstreamHandler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), jitter(5*time.Millisecond, 60*time.Millisecond))

	r.GET("/api/products", func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		c.JSON(http.StatusOK, gin.H{"page": page, "products": []gin.H{
			{"id": 41, "name": "kettle"},
			{"id": 42, "name": "teapot"},
		}})
	})
	r.GET("/api/products/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "name": "teapot", "price": 24.5})
	})
	r.GET("/api/reviews", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"product": c.Query("product"), "reviews": []string{"solid", "pours well"}})
	})
	r.POST("/api/orders", func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"order": fmt.Sprintf("ord-%d", time.Now().UnixNano()%100000), "item": body})
	})
	r.GET("/api/fail", func(c *gin.Context) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upstream exploded"})
	})
	return r
}

func jitter(lo, hi time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := lo + rand.N(hi-lo)
		select {
		case <-time.After(d):
		case <-c.Request.Context().Done():
		}
		c.Next()
	}
}

func startUpstream(addr string, log logr.Logger) (*upstream, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen upstream: %w", err)
	}
	u := &upstream{
		srv:      &http.Server{Handler: newUpstreamHandler(), ReadHeaderTimeout: 5 * time.Second},
		listener: ln,
		log:      log.WithName("upstream"),
	}
	go func() {
		if err := u.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			u.log.Error(err, "serve")
		}
	}()
	u.log.Info("listening", "addr", ln.Addr().String())
	return u, nil
}

// BaseURL returns http://host:port of the bound listener.
func (u *upstream) BaseURL() string {
	return "http://" + u.listener.Addr().String()
}

func (u *upstream) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return u.srv.Shutdown(ctx)
}
