package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/xeipuuv/gojsonschema"

	apperrors "github.com/IgnatG/langextract-api/internal/common/errors"
	"github.com/IgnatG/langextract-api/internal/task"
)

// requestSchema rejects malformed extraction requests before they
// reach the orchestrator, with field-level messages the submitter can
// act on.
const requestSchema = `{
  "type": "object",
  "required": ["prompt_description"],
  "properties": {
    "raw_text": {"type": "string"},
    "document_url": {"type": "string"},
    "prompt_description": {"type": "string", "minLength": 1},
    "examples": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["text", "extractions"],
        "properties": {
          "text": {"type": "string"},
          "extractions": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["extraction_class", "extraction_text"],
              "properties": {
                "extraction_class": {"type": "string", "minLength": 1},
                "extraction_text": {"type": "string", "minLength": 1},
                "attributes": {"type": "object", "additionalProperties": {"type": "string"}}
              }
            }
          }
        }
      }
    },
    "model": {"type": "string"},
    "providers": {"type": "array", "items": {"type": "string"}, "minItems": 1},
    "temperature": {"type": "number", "minimum": 0, "maximum": 2},
    "passes": {"type": "integer", "minimum": 1, "maximum": 5},
    "consensus_threshold": {"type": "number", "minimum": 0, "maximum": 1},
    "callback_url": {"type": "string"},
    "callback_headers": {"type": "object", "additionalProperties": {"type": "string"}},
    "idempotency_key": {"type": "string"}
  }
}`

var requestSchemaLoader = gojsonschema.NewStringLoader(requestSchema)

type submitResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

type batchRequest struct {
	Requests    []task.Request    `json:"requests"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

type batchResponse struct {
	BatchID string   `json:"batch_id"`
	TaskIDs []string `json:"task_ids"`
}

type cancelResponse struct {
	TaskID    string `json:"task_id"`
	Cancelled bool   `json:"cancelled"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 10<<20))
	if err != nil {
		writeError(w, apperrors.NewValidationError("request body unreadable or too large"))
		return
	}

	if err := validateRequestBody(body); err != nil {
		writeError(w, err)
		return
	}

	var req task.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, apperrors.NewValidationError("malformed JSON body"))
		return
	}

	taskID, err := s.service.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{TaskID: taskID, Status: string(task.StatePending)})
}

func (s *Server) handleExtractBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 50<<20)).Decode(&req); err != nil {
		writeError(w, apperrors.NewValidationError("malformed JSON body"))
		return
	}
	if len(req.Requests) == 0 {
		writeError(w, apperrors.NewValidationError("requests must not be empty"))
		return
	}

	batchID, taskIDs, err := s.service.SubmitBatch(r.Context(), req.Requests, req.CallbackURL, req.Headers)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, batchResponse{BatchID: batchID, TaskIDs: taskIDs})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.service.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cancelled, err := s.service.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{TaskID: id, Cancelled: cancelled})
}

func validateRequestBody(body []byte) error {
	result, err := gojsonschema.Validate(requestSchemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return apperrors.NewValidationError("malformed JSON body")
	}
	if !result.Valid() {
		detail := "request validation failed"
		if errs := result.Errors(); len(errs) > 0 {
			detail = errs[0].String()
		}
		return apperrors.NewValidationError(detail)
	}
	return nil
}

func writeError(w http.ResponseWriter, err error) {
	stdErr := apperrors.Normalize(err)

	status := http.StatusInternalServerError
	switch stdErr.Code {
	case apperrors.ErrCodeValidation, apperrors.ErrCodeSSRFRejected:
		status = http.StatusBadRequest
	case apperrors.ErrCodeTaskNotFound:
		status = http.StatusNotFound
	}

	resp := errorResponse{Code: string(stdErr.Code), Message: stdErr.Message}
	// Validation details are the caller's own input; everything else
	// stays internal.
	if stdErr.Code == apperrors.ErrCodeValidation || stdErr.Code == apperrors.ErrCodeSSRFRejected {
		resp.Details = stdErr.Details
	}
	writeJSON(w, status, resp)
}
