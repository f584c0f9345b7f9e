// Package symbolicate provides the /symbolicate API route
package symbolicate

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"
	"github.com/yafengV/CrashParser/api/types"
	symcmd "github.com/yafengV/CrashParser/internal/commands/symbolicate"
	"github.com/yafengV/CrashParser/pkg/dsym"
	sym "github.com/yafengV/CrashParser/pkg/symbolicate"
)

// maxUpload caps the size of a posted crash report
const maxUpload = 32 << 20

// swagger:response
type symbolicateResponse *symcmd.Result

// AddRoutes adds the symbolicate routes to the router
func AddRoutes(rg *gin.RouterGroup, conf *symcmd.Config, reader sym.Reader, index *dsym.Index) {
	if index == nil {
		index = dsym.NewIndex()
	}
	// swagger:route POST /symbolicate Symbolicate postSymbolicate
	//
	// Symbolicate
	//
	// Symbolicate a posted .crash or MetricKit JSON report.
	//
	//     Consumes:
	//     - text/plain
	//     - application/json
	//
	//     Produces:
	//     - application/json
	//     - text/plain
	//
	//     Parameters:
	//       + name: dsyms
	//         in: query
	//         description: comma separated folders scanned for extra .dSYM bundles
	//         required: false
	//         type: string
	//       + name: format
	//         in: query
	//         description: json (default) or text
	//         required: false
	//         type: string
	//       + name: footer
	//         in: query
	//         description: append the symbolication summary to text output
	//         required: false
	//         type: boolean
	//
	//     Responses:
	//       200: symbolicateResponse
	//       400: genericError
	//       413: genericError
	//       500: genericError
	rg.POST("/symbolicate", func(c *gin.Context) {
		format := strings.ToLower(c.DefaultQuery("format", "json"))
		if format != "json" && format != "text" {
			c.AbortWithStatusJSON(http.StatusBadRequest, types.GenericError{Error: "'format' must be json or text"})
			return
		}

		data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxUpload+1))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, types.GenericError{Error: err.Error()})
			return
		}
		if len(data) > maxUpload {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, types.GenericError{Error: "crash report exceeds 32MiB"})
			return
		}
		if len(strings.TrimSpace(string(data))) == 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, types.GenericError{Error: "empty request body"})
			return
		}

		idx := index
		if dirs := c.Query("dsyms"); dirs != "" {
			extra, err := symcmd.BuildIndex(strings.Split(dirs, ","), nil, nil)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, types.GenericError{Error: err.Error()})
				return
			}
			idx = dsym.NewIndex()
			idx.Merge(index)
			idx.Merge(extra)
		}

		name := c.DefaultQuery("name", "upload")
		res, err := symcmd.New(conf, reader, idx).Run(c.Request.Context(), []symcmd.Input{{Name: name, Data: data}})
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, types.GenericError{Error: err.Error()})
			return
		}
		if len(res.Reports) == 0 && len(res.Errors) > 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, types.GenericError{Error: res.Errors[0].Error()})
			return
		}

		if format == "text" {
			var sb strings.Builder
			if err := symcmd.WriteText(&sb, res, cast.ToBool(c.Query("footer"))); err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, types.GenericError{Error: err.Error()})
				return
			}
			c.String(http.StatusOK, sb.String())
			return
		}
		c.JSON(http.StatusOK, res)
	})
}
