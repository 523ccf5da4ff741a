package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"votechain/verification"
)

type biometricRequest struct {
	BiometricType string `json:"biometricType"`
	BiometricData string `json:"biometricData"`
}

type otpVerifyRequest struct {
	OTP string `json:"otp"`
}

type resultResponse struct {
	Success   bool       `json:"success"`
	Message   string     `json:"message"`
	Block     string     `json:"blockchainRef,omitempty"`
	OTP       string     `json:"otp,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (s *server) getProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.workflow.Profile(r.Context(), subject(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *server) createProfile(w http.ResponseWriter, r *http.Request) {
	var input verification.ProfileInput
	if err := decodeBody(r, &input); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	profile, err := s.workflow.CreateProfile(r.Context(), subject(r), input)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

func (s *server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.workflow.Sessions(r.Context(), subject(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []verification.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *server) start(w http.ResponseWriter, r *http.Request) {
	session, err := s.workflow.Start(r.Context(), subject(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *server) advance(w http.ResponseWriter, r *http.Request) {
	session, err := s.workflow.Advance(r.Context(), subject(r), chi.URLParam(r, "step"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *server) biometric(w http.ResponseWriter, r *http.Request) {
	var req biometricRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	block, err := s.workflow.SubmitBiometric(r.Context(), subject(r), req.BiometricType, req.BiometricData)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Success: true, Message: "Biometric verification successful", Block: block.Hash})
}

func (s *server) generateOTP(w http.ResponseWriter, r *http.Request) {
	issue, err := s.workflow.GenerateOTP(r.Context(), subject(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	resp := resultResponse{
		Success:   true,
		Message:   "OTP generated successfully",
		Block:     issue.Block.Hash,
		ExpiresAt: &issue.ExpiresAt,
	}
	if s.exposeOTP {
		resp.OTP = issue.Code
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(req.OTP) == "" {
		writeBadRequest(w, "OTP is required")
		return
	}
	block, err := s.workflow.VerifyOTP(r.Context(), subject(r), req.OTP)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Success: true, Message: "OTP verification successful", Block: block.Hash})
}

func (s *server) completeReady(w http.ResponseWriter, r *http.Request) {
	block, err := s.workflow.CompleteReady(r.Context(), subject(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Success: true, Message: "Verification process completed successfully.", Block: block.Hash})
}
