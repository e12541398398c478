package api

import (
	"errors"
	"net/http"

	"github.com/qnetstudy/qnet-study-server/pkg/planner"
)

type studyPlanRequest struct {
	Subject      string                `json:"subject"`
	ExamSchedule *planner.ExamSchedule `json:"exam_schedule"`
	StartDate    string                `json:"start_date"`
}

type studyPlanResponse struct {
	Success bool `json:"success"`
	*planner.StudyPlan
}

// handleStudyPlan generates an AI study plan from a subject, its exam
// calendar and the day the student wants to start.
func (s *Server) handleStudyPlan(w http.ResponseWriter, r *http.Request) {
	if s.Planner == nil {
		serviceUnavailable(w, "OpenAI", "OPENAI_API_KEY")
		return
	}

	var req studyPlanRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	plan, err := s.Planner.GenerateStudyPlan(r.Context(), req.Subject, req.ExamSchedule, req.StartDate)
	if err != nil {
		if errors.Is(err, planner.ErrSubjectRequired) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.Logger.Error().Err(err).Str("subject", req.Subject).Msg("study plan generation failed")
		respondError(w, http.StatusInternalServerError, "Failed to generate study plan: "+err.Error())
		return
	}

	respondJSON(w, http.StatusOK, studyPlanResponse{Success: true, StudyPlan: plan})
}

type plannerChatRequest struct {
	Messages []planner.Message `json:"messages" validate:"omitempty,dive"`
}

// handlePlannerChat relays a tutoring conversation to the model and
// returns its next message.
func (s *Server) handlePlannerChat(w http.ResponseWriter, r *http.Request) {
	if s.Planner == nil {
		serviceUnavailable(w, "OpenAI", "OPENAI_API_KEY")
		return
	}

	var req plannerChatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	answer, err := s.Planner.Chat(r.Context(), req.Messages)
	if err != nil {
		if errors.Is(err, planner.ErrMessagesRequired) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.Logger.Error().Err(err).Msg("chat completion failed")
		respondError(w, http.StatusInternalServerError, "Failed to generate response: "+err.Error())
		return
	}

	respondJSON(w, http.StatusOK, messageResponse{Success: true, Message: answer})
}
