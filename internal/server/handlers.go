package server

import (
	"net/http"

	apierrors "github.com/drippay/backend/internal/errors"
	"github.com/drippay/backend/internal/instant"
	"github.com/drippay/backend/internal/logging"
	"github.com/drippay/backend/internal/middleware"
	"github.com/drippay/backend/internal/models"
	"github.com/drippay/backend/internal/stream"
	"github.com/drippay/backend/internal/submission"
	"github.com/drippay/backend/internal/user"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// handleCreateUser handles sign-up
func (s *APIServer) handleCreateUser(c *gin.Context) {
	var req user.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	u, err := s.services.Users.Create(c.Request.Context(), &req)
	if err != nil {
		respondServiceError(c, err, "create_user")
		return
	}

	c.JSON(http.StatusCreated, u)
}

type loginRequest struct {
	PrivyID string `json:"privyId" binding:"required"`
}

// handleLogin returns the profile for an identity subject
func (s *APIServer) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	u, err := s.services.Users.Login(c.Request.Context(), req.PrivyID)
	if err != nil {
		respondServiceError(c, err, "login")
		return
	}

	c.JSON(http.StatusOK, u)
}

func (s *APIServer) handleGetUserByPrivyID(c *gin.Context) {
	privyID := c.Param("privyId")
	if !requireSelf(c, privyID) {
		return
	}

	u, err := s.services.Users.GetByPrivyID(c.Request.Context(), privyID)
	if err != nil {
		respondServiceError(c, err, "get_user")
		return
	}

	c.JSON(http.StatusOK, u)
}

func (s *APIServer) handleUpdateUser(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apierrors.NewInvalidRequestError("Invalid user id"))
		return
	}

	var req user.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	u, err := s.services.Users.Update(c.Request.Context(), middleware.GetIdentityFromContext(c), id, &req)
	if err != nil {
		respondServiceError(c, err, "update_user")
		return
	}

	c.JSON(http.StatusOK, u)
}

func (s *APIServer) handleDeleteUser(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apierrors.NewInvalidRequestError("Invalid user id"))
		return
	}

	if err := s.services.Users.Delete(c.Request.Context(), middleware.GetIdentityFromContext(c), id); err != nil {
		respondServiceError(c, err, "delete_user")
		return
	}

	c.Status(http.StatusNoContent)
}

// handleSaveRecipient appends one recipient and returns the full list
func (s *APIServer) handleSaveRecipient(c *gin.Context) {
	privyID := c.Param("privyId")
	if !requireSelf(c, privyID) {
		return
	}

	var req user.RecipientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	recipients, err := s.services.Users.SaveRecipient(c.Request.Context(), privyID, models.Recipient{
		Name:          req.Name,
		WalletAddress: req.WalletAddress,
	})
	if err != nil {
		respondServiceError(c, err, "save_recipient")
		return
	}

	c.JSON(http.StatusOK, recipients)
}

func (s *APIServer) handleGetRecipients(c *gin.Context) {
	privyID := c.Param("privyId")
	if !requireSelf(c, privyID) {
		return
	}

	recipients, err := s.services.Users.GetRecipients(c.Request.Context(), privyID)
	if err != nil {
		respondServiceError(c, err, "get_recipients")
		return
	}

	c.JSON(http.StatusOK, recipients)
}

// handleCreateInstant records a completed instant transfer
func (s *APIServer) handleCreateInstant(c *gin.Context) {
	var req instant.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	record, created, err := s.services.Instants.Create(c.Request.Context(), &req)
	if err != nil {
		respondServiceError(c, err, "create_instant")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		logging.LogRecord(middleware.GetRequestIDFromContext(c), "instant", record.ID.String(), record.ChainID, record.TxHash)
	}
	c.JSON(status, record)
}

func (s *APIServer) handleListInstants(c *gin.Context) {
	address, dir, chainID, ok := listParams(c)
	if !ok {
		return
	}

	records, err := s.services.Instants.List(c.Request.Context(), address, dir, chainID)
	if err != nil {
		respondServiceError(c, err, "list_instants")
		return
	}

	c.JSON(http.StatusOK, records)
}

// handleCreateStream records a flow opened by the caller
func (s *APIServer) handleCreateStream(c *gin.Context) {
	var req stream.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	record, created, err := s.services.Streams.Create(c.Request.Context(), middleware.GetIdentityFromContext(c), &req)
	if err != nil {
		respondServiceError(c, err, "create_stream")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		logging.LogRecord(middleware.GetRequestIDFromContext(c), "stream", record.ID.String(), record.ChainID, record.StreamStartTxHash)
	}
	c.JSON(status, record)
}

func (s *APIServer) handleListStreams(c *gin.Context) {
	address, dir, chainID, ok := listParams(c)
	if !ok {
		return
	}

	records, err := s.services.Streams.List(c.Request.Context(), address, dir, chainID)
	if err != nil {
		respondServiceError(c, err, "list_streams")
		return
	}

	c.JSON(http.StatusOK, records)
}

// handleStopStream closes a stream and attaches its invoice
func (s *APIServer) handleStopStream(c *gin.Context) {
	var req stream.StopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	record, err := s.services.Streams.Stop(c.Request.Context(), middleware.GetIdentityFromContext(c), &req)
	if err != nil {
		respondServiceError(c, err, "stop_stream")
		return
	}

	logging.LogRecord(middleware.GetRequestIDFromContext(c), "stream_stop", record.ID.String(), record.ChainID, req.StreamStoppedTxHash)
	c.JSON(http.StatusOK, record)
}

// handleRecordSubmission journals a transaction hash returned by the wallet
func (s *APIServer) handleRecordSubmission(c *gin.Context) {
	var req submission.RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	sub, created, err := s.services.Submissions.Record(c.Request.Context(), middleware.GetIdentityFromContext(c), &req)
	if err != nil {
		respondServiceError(c, err, "record_submission")
		return
	}

	if created {
		c.JSON(http.StatusCreated, sub)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (s *APIServer) handleGetSubmission(c *gin.Context) {
	sub, err := s.services.Submissions.Get(c.Request.Context(), middleware.GetIdentityFromContext(c), c.Param("chainId"), c.Param("txHash"))
	if err != nil {
		respondServiceError(c, err, "get_submission")
		return
	}

	c.JSON(http.StatusOK, sub)
}
