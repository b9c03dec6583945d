package api

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Use installs the common middleware stack and the /metrics endpoint.
func Use(e *echo.Echo) {
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, headerIdempotencyKey},
	}))
	// gzip-encoded request bodies are inflated before handlers decode them
	e.Use(middleware.Decompress())
	e.Use(echoprometheus.NewMiddleware("prism_board"))
	e.GET("/metrics", echoprometheus.NewHandler())
}
