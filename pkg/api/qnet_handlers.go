package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/qnetstudy/qnet-study-server/pkg/qnet"
)

// scheduleFetch is the shape of the four exam-schedule operations.
type scheduleFetch func(ctx context.Context, p qnet.ScheduleParams) (*qnet.UpstreamResult, error)

// subjectFetch is the shape of the jmCd-keyed operations.
type subjectFetch func(ctx context.Context, jmCd string) (*qnet.UpstreamResult, error)

// handleSchedule serves one exam-schedule passthrough route. implYy and
// implSeq are optional; the upstream answers its full calendar without
// them.
func (s *Server) handleSchedule(fetch scheduleFetch) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := qnet.ScheduleParams{
			ImplYy:  r.URL.Query().Get("implYy"),
			ImplSeq: r.URL.Query().Get("implSeq"),
		}

		res, err := fetch(r.Context(), params)
		if err != nil {
			s.respondQNetError(w, r, err)
			return
		}
		writeXML(w, res)
	}
}

// handleQualification serves the fee-list and jm-list routes, which
// require a qualification code.
func (s *Server) handleQualification(fetch subjectFetch) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := fetch(r.Context(), r.URL.Query().Get("jmCd"))
		if err != nil {
			s.respondQNetError(w, r, err)
			return
		}
		writeXML(w, res)
	}
}

// handleQualificationList serves the qualification catalogue. gno is
// optional and narrows the answer to one series.
func (s *Server) handleQualificationList(w http.ResponseWriter, r *http.Request) {
	res, err := s.QNet.QualificationList(r.Context(), r.URL.Query().Get("gno"))
	if err != nil {
		s.respondQNetError(w, r, err)
		return
	}
	writeXML(w, res)
}

// writeXML relays an upstream answer verbatim, status included. The
// Q-Net portal speaks XML and the frontend parses it client side.
func writeXML(w http.ResponseWriter, res *qnet.UpstreamResult) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(res.StatusCode)
	_, _ = w.Write([]byte(res.Body))
}

// respondQNetError maps proxy failures onto statuses: bad input is the
// caller's fault, exhausted retries or quota mean the service cannot
// answer right now, and a terminal upstream error is a bad gateway.
func (s *Server) respondQNetError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var ue *qnet.UpstreamError
	switch {
	case errors.Is(err, qnet.ErrMissingJmCd):
		status = http.StatusBadRequest
	case errors.Is(err, qnet.ErrQuotaExhausted), errors.Is(err, qnet.ErrRetriesExhausted):
		status = http.StatusServiceUnavailable
	case errors.As(err, &ue):
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		s.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("qnet proxy request failed")
	}
	respondError(w, status, err.Error())
}
