package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/al-bashkir/ipo-result-relay/internal/companies"
	"github.com/al-bashkir/ipo-result-relay/internal/config"
	"github.com/al-bashkir/ipo-result-relay/internal/ipo"
	"github.com/al-bashkir/ipo-result-relay/internal/logsanitize"
	"github.com/al-bashkir/ipo-result-relay/internal/upstream"
)

const sessionExpiredMessage = "Captcha session expired. Fetch captcha again."

type companiesResponse struct {
	Success   bool                `json:"success"`
	Count     int                 `json:"count"`
	Companies []companies.Company `json:"companies"`
}

type captchaResponse struct {
	Success           bool   `json:"success"`
	CaptchaIdentifier string `json:"captchaIdentifier"`
	CaptchaURL        string `json:"captchaUrl"`
}

type bulkCheckResponse struct {
	Success bool         `json:"success"`
	Count   int          `json:"count"`
	Results []ipo.Result `json:"results"`
}

type captchaErrorResponse struct {
	Success      bool   `json:"success"`
	CaptchaError bool   `json:"captchaError"`
	Message      string `json:"message"`
}

type checkResponse struct {
	Success   bool   `json:"success"`
	BOID      string `json:"boid"`
	CompanyID string `json:"companyId"`
	Allotted  bool   `json:"allotted"`
	Message   string `json:"message,omitempty"`
	Cached    bool   `json:"cached,omitempty"`
}

// handleCompanies serves the static company list. The file is read on every
// request so edits apply without a restart.
func (s *Server) handleCompanies(w http.ResponseWriter, r *http.Request) {
	list, err := companies.Load(s.cfg.Companies.File)
	if err != nil {
		slog.Error("failed to load companies",
			"request_id", requestIDFrom(r.Context()),
			"file", s.cfg.Companies.File,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "Failed to load companies")
		return
	}

	writeJSON(w, http.StatusOK, companiesResponse{
		Success:   true,
		Count:     len(list),
		Companies: list,
	})
}

// handleGetCaptcha starts a new upstream session and hands the captcha to
// the client.
func (s *Server) handleGetCaptcha(w http.ResponseWriter, r *http.Request) {
	captcha, err := s.sessions.Refresh(r.Context())
	if err != nil {
		slog.Error("captcha fetch failed",
			"request_id", requestIDFrom(r.Context()),
			"error", err,
		)
		if errors.Is(err, upstream.ErrParse) {
			writeError(w, http.StatusInternalServerError, "Captcha parsing failed")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to fetch captcha")
		return
	}

	writeJSON(w, http.StatusOK, captchaResponse{
		Success:           true,
		CaptchaIdentifier: captcha.Identifier,
		CaptchaURL:        captcha.ImageURL,
	})
}

// handleBulkCheck runs a batch through whichever protocol is configured.
func (s *Server) handleBulkCheck(w http.ResponseWriter, r *http.Request) {
	var body bulkCheckRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	req := body.bulkRequest()

	slog.Debug("bulk check requested", // #nosec G706 -- values masked via logsanitize
		"request_id", requestIDFrom(r.Context()),
		"company_id", logsanitize.Sanitize(req.CompanyID),
		"boids", logsanitize.MaskBOIDs(req.BOIDs),
	)

	var (
		out *ipo.BulkOutcome
		err error
	)
	if s.cfg.Upstream.Protocol == config.ProtocolForm {
		out, err = s.checker.CheckCached(r.Context(), req)
	} else {
		out, err = s.checker.CheckWithCaptcha(r.Context(), req)
	}

	switch {
	case errors.Is(err, ipo.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "Missing parameters")
		return
	case errors.Is(err, ipo.ErrSessionExpired):
		writeError(w, http.StatusBadRequest, sessionExpiredMessage)
		return
	case err != nil:
		slog.Error("bulk check failed",
			"request_id", requestIDFrom(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "Bulk check failed")
		return
	}

	if out.CaptchaError {
		writeJSON(w, http.StatusOK, captchaErrorResponse{
			Success:      false,
			CaptchaError: true,
			Message:      out.Message,
		})
		return
	}

	writeJSON(w, http.StatusOK, bulkCheckResponse{
		Success: true,
		Count:   len(out.Results),
		Results: out.Results,
	})
}

// handleCheck looks up a single account through the cache.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	boid := r.URL.Query().Get("boid")
	companyID := r.URL.Query().Get("companyId")

	res, err := s.checker.Lookup(r.Context(), boid, companyID)
	if err != nil {
		if errors.Is(err, ipo.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "boid and companyId are required")
			return
		}
		slog.Error("result check failed", // #nosec G706 -- values masked via logsanitize
			"request_id", requestIDFrom(r.Context()),
			"boid", logsanitize.MaskBOID(boid),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "Failed to check result")
		return
	}

	writeJSON(w, http.StatusOK, checkResponse{
		Success:   true,
		BOID:      res.BOID,
		CompanyID: res.CompanyID,
		Allotted:  res.Allotted,
		Message:   res.Message,
		Cached:    res.Cached,
	})
}
