// Package server is the thin HTTP binding over the document service. It
// parses requests, derives the effective uploader and maps service errors
// to status codes; all retrieval semantics live in internal/service.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/emrgen/docsearch/internal/service"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

type Server struct {
	echo *echo.Echo
	docs *service.DocumentService
	auth *Authenticator
	port string
}

func NewServer(docs *service.DocumentService, auth *Authenticator, port string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logrus.Infof("%s %s %d %s",
				c.Request().Method, c.Request().RequestURI,
				c.Response().Status, time.Since(start))
			return err
		}
	})

	s := &Server{echo: e, docs: docs, auth: auth, port: port}
	s.registerRoutes()

	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/v1")
	v1.POST("/documents/upload", s.handleUpload)
	v1.POST("/query", s.handleQuery)
	v1.POST("/embed", s.handleEmbed)
	v1.GET("/documents", s.handleListDocuments)
	v1.GET("/documents/by-hash/:hash", s.handleGetDocumentByHash)
	v1.DELETE("/documents/by-hash/:hash", s.handleDeleteDocumentByHash)
	v1.GET("/documents/:id", s.handleGetDocument)
	v1.DELETE("/documents/:id", s.handleDeleteDocument)
	v1.GET("/documents/:id/download", s.handleDownload)
	v1.GET("/documents/:id/chunks", s.handleDocumentChunks)
	// The context route addresses the document by UUID; echo requires the
	// shared prefix to reuse the :id name.
	v1.GET("/documents/:id/chunks/:index/context", s.handleChunkContext)
}

func (s *Server) Start() error {
	logrus.Infof("starting http server on :%s", s.port)
	return s.echo.Start(":" + s.port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	logrus.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "docsearch",
	})
}
