// Package dsym provides the /dsym API routes
package dsym

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/yafengV/CrashParser/api/types"
	"github.com/yafengV/CrashParser/pkg/dsym"
)

// swagger:response
type scanResponse struct {
	Path    string        `json:"path"`
	Bundles []dsym.Bundle `json:"bundles"`
}

// AddRoutes adds the dsym routes to the router
func AddRoutes(rg *gin.RouterGroup) {
	// swagger:route GET /dsym/scan dSYM getScan
	//
	// Scan
	//
	// List the debug-symbol bundles found under a folder.
	//
	//     Produces:
	//     - application/json
	//
	//     Parameters:
	//       + name: path
	//         in: query
	//         description: folder holding .dSYM bundles or .xcarchive folders
	//         required: true
	//         type: string
	//
	//     Responses:
	//       200: scanResponse
	//       400: genericError
	//       500: genericError
	rg.GET("/dsym/scan", func(c *gin.Context) {
		path := c.Query("path")
		if path == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, types.GenericError{Error: "'path' query parameter is required"})
			return
		}
		path = filepath.Clean(path)
		idx, err := dsym.Scan(path)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, types.GenericError{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, scanResponse{Path: path, Bundles: idx.Bundles()})
	})
}
