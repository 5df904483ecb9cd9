package main

import (
	"html/template"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/rung/go-safecast"
	"github.com/spoolsync/spoolsync/cmd/spoolsync/shared"
	"go.uber.org/zap"
)

type tagWriter interface {
	WriteTag(spool int, filament int) error
}

type spoolLister interface {
	GetSpools() ([]shared.Spool, error)
}

type gateSyncer interface {
	Sync(spool int, filament int) error
	Last() (spool int, filament int, ok bool)
}

const indexTemplate = `<!DOCTYPE html>
<html>
<head><title>spoolsync</title></head>
<body>
<h1>Spools</h1>
{{if .HasAssignment}}<p>Current assignment: spool #{{.Spool}}, filament #{{.Filament}}</p>{{else}}<p>No assignment pushed yet</p>{{end}}
<table border="1">
<tr><th>Spool</th><th>Filament</th><th>Name</th><th>Material</th><th>Vendor</th><th></th></tr>
{{range .Spools}}<tr>
<td>{{.ID}}</td><td>{{.Filament.ID}}</td><td>{{.Filament.Name}}</td><td>{{.Filament.Material}}</td><td>{{.Filament.Vendor.Name}}</td>
<td><a href="/w/{{.ID}}/{{.Filament.ID}}">write tag</a></td>
</tr>{{end}}
</table>
</body>
</html>
`

// SetupRouter builds the REST API. Serving is left to the caller.
func SetupRouter(sync gateSyncer, writer tagWriter, lister spoolLister) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - Logs to stdout.
	//   - RFC3339 with UTC time format.
	router.Use(ginzap.Ginzap(zap.L(), time.RFC3339, true))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	router.Use(ginzap.RecoveryWithZap(zap.L(), true))

	router.SetHTMLTemplate(template.Must(template.New("index").Parse(indexTemplate)))

	router.GET("/", gzip.Gzip(gzip.DefaultCompression), indexHandler(sync, lister))
	router.GET("/w/:spool/:filament", writeTagHandler(writer))
	router.POST("/sync/:spool/:filament", forceSyncHandler(sync))

	return router
}

func indexHandler(sync gateSyncer, lister spoolLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		spools, err := lister.GetSpools()
		if err != nil {
			zap.S().Errorf("Failed to get spools from spoolman: %s", err)
			c.String(http.StatusBadGateway, "Failed to get spools from spoolman")
			return
		}

		spool, filament, ok := sync.Last()
		c.HTML(
			http.StatusOK, "index", gin.H{
				"Spools":        spools,
				"HasAssignment": ok,
				"Spool":         spool,
				"Filament":      filament,
			})
	}
}

func writeTagHandler(writer tagWriter) gin.HandlerFunc {
	return func(c *gin.Context) {
		spool, filament, ok := idParams(c)
		if !ok {
			return
		}

		zap.S().Infof("  write spool=%d, filament=%d", spool, filament)
		if err := writer.WriteTag(spool, filament); err != nil {
			zap.S().Errorf("Failed to write to tag: %s", err)
			c.String(http.StatusBadGateway, "Failed to write to tag")
			return
		}
		c.String(http.StatusOK, "OK")
	}
}

func forceSyncHandler(sync gateSyncer) gin.HandlerFunc {
	return func(c *gin.Context) {
		spool, filament, ok := idParams(c)
		if !ok {
			return
		}

		if err := sync.Sync(spool, filament); err != nil {
			c.String(http.StatusBadGateway, "Failed to update the gate map")
			return
		}
		c.String(http.StatusOK, "OK")
	}
}

func idParams(c *gin.Context) (spool int, filament int, ok bool) {
	spool32, err := safecast.Atoi32(c.Param("spool"))
	if err != nil || spool32 < 0 {
		c.String(http.StatusBadRequest, "spool must be a non-negative integer")
		return 0, 0, false
	}
	filament32, err := safecast.Atoi32(c.Param("filament"))
	if err != nil || filament32 < 0 {
		c.String(http.StatusBadRequest, "filament must be a non-negative integer")
		return 0, 0, false
	}
	return int(spool32), int(filament32), true
}
