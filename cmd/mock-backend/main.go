// Command mock-backend is a development upstream for the gateway. It mirrors
// every proxied request back as JSON so forwarded headers and path rewrites
// can be inspected, and serves a small meetup dataset for the aggregation
// endpoints.
package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{}

type errorMessage struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

type mirrorMessage struct {
	Message string          `json:"message"`
	Request mirroredRequest `json:"request"`
}

type mirroredRequest struct {
	Method  string      `json:"method"`
	URL     string      `json:"url"`
	Proto   string      `json:"proto"`
	Headers http.Header `json:"headers"`
}

type speaker struct {
	SpeakerID    string `json:"speakerId"`
	FullName     string `json:"fullName"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

type meetup struct {
	MeetupID string `json:"meetupId"`
	Title    string `json:"title"`
}

var speakers = []speaker{
	{SpeakerID: "sp-1", FullName: "Ada Lovelace"},
	{SpeakerID: "sp-2", FullName: "Grace Hopper"},
	{SpeakerID: "sp-3", FullName: "Barbara Liskov"},
}

var meetups = []meetup{
	{MeetupID: "mu-1", Title: "Distributed Systems 101"},
	{MeetupID: "mu-2", Title: "Practical Observability"},
}

func main() {
	address := flag.String("address", ":8091", "listen address")
	flag.Parse()

	e := echo.New()
	e.HideBanner = true

	e.GET("/meetupplanner/speakers", func(c echo.Context) error {
		return c.JSON(http.StatusOK, speakers)
	})

	e.GET("/meetupplanner/meetups", func(c echo.Context) error {
		return c.JSON(http.StatusOK, meetups)
	})

	// Mirror everything else, so the gateway's rewrites are visible.
	e.Any("/*", func(c echo.Context) error {
		return c.JSON(http.StatusOK, mirrorRequest(c.Request()))
	})

	e.GET("/ws/mirror", func(c echo.Context) error {
		ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return err
		}
		defer ws.Close()

		for {
			messageType, msg, err := ws.ReadMessage()
			if err != nil {
				slog.Error("error reading message", "error", err)
				return err
			}
			if messageType != websocket.TextMessage {
				ws.WriteJSON(errorMessage{
					Code:        "invalid_message_type",
					Description: "Only text messages are supported",
				})
				continue
			}

			var parsed struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(msg, &parsed); err != nil {
				ws.WriteJSON(errorMessage{
					Code:        "invalid_message_format",
					Description: "Invalid JSON format",
				})
				continue
			}

			err = ws.WriteJSON(mirrorMessage{
				Message: parsed.Message,
				Request: mirrorRequest(c.Request()),
			})
			if err != nil {
				slog.Error("error writing message", "error", err)
				return err
			}
		}
	})

	e.Logger.Fatal(e.Start(*address))
}

func mirrorRequest(r *http.Request) mirroredRequest {
	return mirroredRequest{
		Method:  r.Method,
		URL:     r.URL.String(),
		Proto:   r.Proto,
		Headers: r.Header,
	}
}
