package httpapi

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"

	"event-rsvp/internal/events"
	"event-rsvp/internal/models"
	"event-rsvp/internal/rsvp"
)

type phoneRequest struct {
	PhoneNumber string `json:"phone_number" binding:"required"`
}

type verifyRequest struct {
	PhoneNumber string `json:"phone_number" binding:"required"`
	Code        string `json:"code"`
	Name        string `json:"name"`
}

type rsvpRequest struct {
	Status  models.RSVPStatus `json:"status" binding:"required"`
	Answers map[int64]string  `json:"answers"`
}

type invitationsRequest struct {
	PhoneNumbers string `json:"phone_numbers" binding:"required"`
}

// Auth

func (s *Server) handleRequestCode(c *gin.Context) {
	var req phoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "Please enter a valid phone number.")
		return
	}
	report, err := s.auth.RequestCode(c.Request.Context(), req.PhoneNumber)
	if err != nil {
		s.fail(c, err)
		return
	}
	if !report.Success {
		c.JSON(http.StatusBadGateway, gin.H{"error": report.Error})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleResend(c *gin.Context) {
	var req phoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "Please enter a valid phone number.")
		return
	}
	report, err := s.auth.Resend(c.Request.Context(), req.PhoneNumber)
	if err != nil {
		s.fail(c, err)
		return
	}
	if !report.Success {
		c.JSON(http.StatusBadGateway, gin.H{"error": report.Error})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleVerify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "Please enter a valid phone number.")
		return
	}
	session, user, err := s.auth.Login(c.Request.Context(), req.PhoneNumber, req.Code, req.Name)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      session.Token,
		"expires_at": session.ExpiresAt,
		"user":       user,
	})
}

func (s *Server) handleLogout(c *gin.Context) {
	if token := bearerToken(c); token != "" {
		if err := s.auth.Logout(c.Request.Context(), token); err != nil {
			s.fail(c, err)
			return
		}
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleMe(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

// Events

func (s *Server) handleCreateEvent(c *gin.Context) {
	var in events.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		s.badRequest(c, "Invalid event data.")
		return
	}
	event, err := s.events.CreateEvent(c.Request.Context(), currentUserID(c), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, event)
}

func (s *Server) handleGetEvent(c *gin.Context) {
	details, err := s.events.GetEvent(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

func (s *Server) handleGetByShortCode(c *gin.Context) {
	details, err := s.events.GetEventByShortCode(c.Request.Context(), currentUserID(c), c.Param("code"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

func (s *Server) handleUpdateEvent(c *gin.Context) {
	var in events.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		s.badRequest(c, "Invalid event data.")
		return
	}
	event, err := s.events.UpdateEvent(c.Request.Context(), currentUserID(c), c.Param("id"), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}

func (s *Server) handleDeleteEvent(c *gin.Context) {
	if err := s.events.DeleteEvent(c.Request.Context(), currentUserID(c), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRSVP(c *gin.Context) {
	var req rsvpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "Please select a valid RSVP status.")
		return
	}
	outcome, err := s.rsvps.Submit(c.Request.Context(), rsvp.Submission{
		EventID: c.Param("id"),
		UserID:  currentUserID(c),
		Status:  req.Status,
		Answers: req.Answers,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	status := http.StatusOK
	if outcome.Created {
		status = http.StatusCreated
	}
	c.JSON(status, outcome)
}

func (s *Server) handleUploadCover(c *gin.Context) {
	header, err := c.FormFile("cover_photo")
	if err != nil {
		s.badRequest(c, "Please choose an image to upload.")
		return
	}
	file, err := header.Open()
	if err != nil {
		s.fail(c, err)
		return
	}
	defer file.Close()

	status, err := s.events.UploadCover(c.Request.Context(), currentUserID(c), c.Param("id"), header.Filename, file)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, status)
}

func (s *Server) handleCoverStatus(c *gin.Context) {
	status, err := s.events.CoverPhotoStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleInviteGuests(c *gin.Context) {
	var req invitationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "Please enter at least one phone number.")
		return
	}
	result, err := s.events.InviteGuests(c.Request.Context(), currentUserID(c), c.Param("id"), req.PhoneNumbers)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleListOrganizers(c *gin.Context) {
	team, err := s.events.Organizers(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"organizers": team})
}

func (s *Server) handleInviteOrganizer(c *gin.Context) {
	var req phoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "Please enter a valid phone number.")
		return
	}
	user, err := s.events.InviteOrganizer(c.Request.Context(), currentUserID(c), c.Param("id"), req.PhoneNumber)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (s *Server) handleLeaveEvent(c *gin.Context) {
	if err := s.events.LeaveEvent(c.Request.Context(), currentUserID(c), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleTextBlast(c *gin.Context) {
	var in events.BlastInput
	if err := c.ShouldBindJSON(&in); err != nil {
		s.badRequest(c, "Please enter a message.")
		return
	}
	blast, err := s.events.SendTextBlast(c.Request.Context(), currentUserID(c), c.Param("id"), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, blast)
}

func (s *Server) handleShareQR(c *gin.Context) {
	png, err := s.events.ShareQR(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) handleAttendees(c *gin.Context) {
	list, err := s.events.Attendees(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) handleAttendeesCSV(c *gin.Context) {
	var buf bytes.Buffer
	if err := s.events.WriteAttendeesCSV(c.Request.Context(), currentUserID(c), c.Param("id"), &buf); err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="attendees.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}
