package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/nikhilbhutani/indicstt/internal/config"
	"github.com/nikhilbhutani/indicstt/internal/textnorm"
)

type EvalHandler struct{}

func NewEvalHandler() *EvalHandler {
	return &EvalHandler{}
}

type werRequest struct {
	Reference  string `json:"reference"`
	Hypothesis string `json:"hypothesis"`
	Language   string `json:"language,omitempty"`
	Normalize  bool   `json:"normalize,omitempty"`
}

type werResponse struct {
	textnorm.WERResult
	Reference  string `json:"reference"`
	Hypothesis string `json:"hypothesis"`
	Normalized bool   `json:"normalized"`
}

// WER scores a hypothesis transcript against a reference.
func (h *EvalHandler) WER(w http.ResponseWriter, r *http.Request) {
	var req werRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Language == "" {
		req.Language = defaultLanguage
	}
	if req.Normalize && !config.IsSupportedLanguage(req.Language) {
		writeError(w, http.StatusBadRequest, "unsupported language")
		return
	}

	ref, hyp := req.Reference, req.Hypothesis
	if req.Normalize {
		ref = textnorm.Normalize(ref, req.Language)
		hyp = textnorm.Normalize(hyp, req.Language)
	}

	writeJSON(w, http.StatusOK, werResponse{
		WERResult:  textnorm.ComputeWER(ref, hyp),
		Reference:  ref,
		Hypothesis: hyp,
		Normalized: req.Normalize,
	})
}
