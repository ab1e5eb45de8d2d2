package webserver

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/Sar-kit/tus2/internal/coordinator"
	"github.com/Sar-kit/tus2/internal/database"
	"github.com/Sar-kit/tus2/internal/storage"
	middlewarepkg "github.com/Sar-kit/tus2/internal/webserver/middleware"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mdouchement/logger"
)

// A Controller is an Iversion Of Control pattern used to init the server package.
type Controller struct {
	Version  string
	Logger   logger.Logger
	Database database.Client
	Storage  storage.Backend
	//
	PublicURL string
}

// EchoEngine instantiates the wep server.
func EchoEngine(ctrl Controller) *echo.Echo {
	engine := echo.New()
	engine.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		// Chunk and file exchanges carry binary payloads.
		Skipper: func(c echo.Context) bool {
			return c.Request().Method == http.MethodPatch ||
				strings.HasPrefix(c.Request().URL.Path, "/files/")
		},
	}))
	engine.Use(middlewarepkg.Logger(ctrl.Logger))

	engine.HTTPErrorHandler = middlewarepkg.NewHTTPErrorHandler(ctrl.Logger)

	engine.Pre(middleware.Rewrite(map[string]string{
		"/": "/version",
	}))

	//
	//
	//

	router := engine.Group("")

	// Generic handlers
	//
	router.GET("/version", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{
			"version": ctrl.Version,
		})
	})

	// Form
	//
	form := form{
		logger: ctrl.Logger,
		db:     ctrl.Database,
	}
	router.POST("/forms", form.Create)
	router.GET("/forms/all", form.List)

	// Upload protocol
	//
	// https://tus.io/protocols/resumable-upload
	//
	upload := upload{
		logger:      ctrl.Logger,
		coordinator: coordinator.New(ctrl.Logger, ctrl.Database, ctrl.Storage, ctrl.PublicURL),
	}
	router.OPTIONS("/uploads", upload.Options)
	router.POST("/uploads", upload.Create)
	router.HEAD("/uploads/:upload", upload.Offset)
	router.PATCH("/uploads/:upload", upload.Write)
	router.GET("/files/:upload", upload.Download)

	return engine
}

// PrintRoutes prints the Echo engin exposed routes.
func PrintRoutes(e *echo.Echo) {
	ignored := map[string]bool{
		"":   true,
		".":  true,
		"/*": true,
	}

	routes := e.Routes()
	sort.Slice(routes, func(i int, j int) bool {
		return routes[i].Path < routes[j].Path
	})

	fmt.Println("Routes:")
	for _, route := range routes {
		if ignored[route.Path] {
			continue
		}
		fmt.Printf("%6s %s\n", route.Method, route.Path)
	}
}
