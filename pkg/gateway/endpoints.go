package gateway

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// SpeakersEndpoint lists speakers from the downstream API, sorted by name.
func (s *Server) SpeakersEndpoint(c echo.Context) error {
	speakers, err := s.downstream.Speakers(c.Request().Context())
	if err != nil {
		return fmt.Errorf("list speakers: %w", err)
	}
	return c.JSON(http.StatusOK, speakers)
}

// DashboardEndpoint aggregates the dashboard numbers from the downstream API.
func (s *Server) DashboardEndpoint(c echo.Context) error {
	counts, err := s.downstream.Counts(c.Request().Context())
	if err != nil {
		return fmt.Errorf("aggregate dashboard counts: %w", err)
	}
	return c.JSON(http.StatusOK, counts)
}
