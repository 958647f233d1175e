package web

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/pion/webrtc/v3"
	"github.com/samber/lo"

	"github.com/teslashibe/go-livedetect/internal/log"
	"github.com/teslashibe/go-livedetect/pkg/detection"
	"github.com/teslashibe/go-livedetect/pkg/hub"
	"github.com/teslashibe/go-livedetect/pkg/stream"
	"github.com/teslashibe/go-livedetect/pkg/thresholds"
)

// ICEServer is the browser RTCIceServer shape.
type ICEServer struct {
	URLs []string `json:"urls"`
}

// MediaConstraints are passed to getUserMedia.
type MediaConstraints struct {
	Video bool `json:"video"`
	Audio bool `json:"audio"`
}

// ConfigResponse describes the page.
type ConfigResponse struct {
	Title      string              `json:"title"`
	Info       string              `json:"info"`
	Sliders    []thresholds.Slider `json:"sliders"`
	ICEServers []ICEServer         `json:"iceServers"`
	Media      MediaConstraints    `json:"media"`
}

// OfferRequest is the browser session description.
type OfferRequest struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// OfferResponse is the server answer plus the id used to close the session.
type OfferResponse struct {
	ID   string `json:"id"`
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// Status is pushed to /ws/status.
type Status struct {
	Time       string               `json:"time"`
	Sessions   int                  `json:"sessions"`
	Thresholds detection.Thresholds `json:"thresholds"`
	Streams    []stream.SessionInfo `json:"streams"`
}

func (s *Server) status() Status {
	return Status{
		Time:       time.Now().Format("15:04:05"),
		Sessions:   s.sessions.Count(),
		Thresholds: s.thresholds.Get(),
		Streams:    s.sessions.Sessions(),
	}
}

func (s *Server) handleIndex(c *fiber.Ctx) error {
	c.Type("html", "utf-8")
	return c.Send(indexHTML)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"sessions": s.sessions.Count(),
	})
}

// handleConfig returns everything the page needs to build its UI.
func (s *Server) handleConfig(c *fiber.Ctx) error {
	return c.JSON(ConfigResponse{
		Title:   s.opts.Title,
		Info:    s.opts.Info,
		Sliders: thresholds.Sliders(),
		ICEServers: lo.Map(s.opts.ICEServers, func(u string, _ int) ICEServer {
			return ICEServer{URLs: []string{u}}
		}),
		Media: MediaConstraints{Video: true, Audio: false},
	})
}

func (s *Server) handleGetThresholds(c *fiber.Ctx) error {
	return c.JSON(s.thresholds.Get())
}

// handlePutThresholds applies slider changes. Body keys are slider names and
// an optional "preset"; omitted sliders keep their value.
func (s *Server) handlePutThresholds(c *fiber.Ctx) error {
	var params map[string]interface{}
	if err := json.Unmarshal(c.Body(), &params); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
	}
	if err := s.thresholds.Update(params); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(s.thresholds.Get())
}

// handleOffer creates a session for the browser offer and returns the answer.
func (s *Server) handleOffer(c *fiber.Ctx) error {
	var req OfferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
	}
	if req.SDP == "" || req.Type != "offer" {
		return fiber.NewError(fiber.StatusBadRequest, "expected an SDP offer")
	}

	sess, err := s.sessions.Create()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), offerTimeout)
	defer cancel()

	answer, err := sess.Negotiate(ctx, webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  req.SDP,
	})
	if err != nil {
		if cerr := s.sessions.Remove(sess.ID); cerr != nil {
			log.Debug("remove failed session", "session", sess.ID, "error", cerr)
		}
		if errors.Is(err, stream.ErrInvalidOffer) {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return err
	}

	s.broadcastStatus()
	return c.JSON(OfferResponse{
		ID:   sess.ID,
		SDP:  answer.SDP,
		Type: answer.Type.String(),
	})
}

func (s *Server) handleListSessions(c *fiber.Ctx) error {
	return c.JSON(s.sessions.Sessions())
}

func (s *Server) handleDeleteSession(c *fiber.Ctx) error {
	err := s.sessions.Remove(c.Params("id"))
	switch {
	case errors.Is(err, stream.ErrSessionNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case err != nil:
		log.Debug("session close", "error", err)
	}
	s.broadcastStatus()
	return c.SendStatus(fiber.StatusNoContent)
}

// handleStatusWS streams status updates, starting with the current status.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	data, err := json.Marshal(s.status())
	if err != nil {
		log.Warn("encode status", "error", err)
		return
	}

	client := hub.NewClient(s.statusHub, c, hub.NewJSONMessage(data))
	if client == nil {
		return
	}
	client.Run()
}
