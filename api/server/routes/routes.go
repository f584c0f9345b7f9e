// Package routes contains all the routes for the API
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/yafengV/CrashParser/api/server/routes/daemon"
	"github.com/yafengV/CrashParser/api/server/routes/dsym"
	"github.com/yafengV/CrashParser/api/server/routes/symbolicate"
	symcmd "github.com/yafengV/CrashParser/internal/commands/symbolicate"
	pdsym "github.com/yafengV/CrashParser/pkg/dsym"
	sym "github.com/yafengV/CrashParser/pkg/symbolicate"
)

// Deps are the services shared by the routes
type Deps struct {
	Pipeline *symcmd.Config
	Reader   sym.Reader
	Index    *pdsym.Index
}

// Add adds the command routes to the router
func Add(rg *gin.RouterGroup, deps *Deps) {
	daemon.AddRoutes(rg, deps.Index)
	dsym.AddRoutes(rg)
	symbolicate.AddRoutes(rg, deps.Pipeline, deps.Reader, deps.Index)
}
