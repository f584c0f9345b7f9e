// Package daemon provides the daemon routes
package daemon

import (
	"net/http"
	"runtime"

	"github.com/gin-gonic/gin"
	"github.com/yafengV/CrashParser/api"
	"github.com/yafengV/CrashParser/api/types"
	"github.com/yafengV/CrashParser/pkg/dsym"
)

// AddRoutes adds the daemon routes to the router
func AddRoutes(rg *gin.RouterGroup, idx *dsym.Index) {
	// HEAD /_ping returns 200 while the daemon is up
	rg.HEAD("/_ping", pingHandler)
	// GET /_ping returns "OK" while the daemon is up
	rg.GET("/_ping", pingHandler)
	// GET /version returns the build and the number of indexed UUIDs
	rg.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, types.Version{
			APIVersion:     api.DefaultVersion,
			OSType:         runtime.GOOS,
			BuilderVersion: types.BuildVersion,
			BuildTime:      types.BuildTime,
			IndexedUUIDs:   idx.Len(),
		})
	})
}

func pingHandler(c *gin.Context) {
	c.Header("Cache-Control", "no-cache, no-store")

	if c.Request.Method == http.MethodHead {
		c.Status(http.StatusOK)
		return
	}
	c.String(http.StatusOK, "OK")
}
