package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/petal-labs/toolgarden/catalog"
	"github.com/petal-labs/toolgarden/executor"
	"github.com/petal-labs/toolgarden/syncer"
)

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// searchResult is one search hit joined with its catalog rows.
type searchResult struct {
	Tool    catalog.Tool `json:"tool"`
	Package string       `json:"package"`
	Score   float64      `json:"score"`
}

func (s *Server) handleSearchTools(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	if query == "" || s.index == nil {
		writeJSON(w, http.StatusOK, []searchResult{})
		return
	}

	hits, err := s.index.Search(query, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SEARCH_ERROR", err.Error())
		return
	}

	results := make([]searchResult, 0, len(hits))
	for _, hit := range hits {
		tool, ok, err := s.store.GetTool(r.Context(), hit.ToolID)
		if err != nil || !ok {
			// The index can briefly trail the store; drop stale hits.
			continue
		}
		pkgName := ""
		if pkg, ok, err := s.store.GetPackageByID(r.Context(), tool.PackageID); err == nil && ok {
			pkgName = pkg.Name
		}
		results = append(results, searchResult{Tool: tool, Package: pkgName, Score: hit.Score})
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleGetTool(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	tool, ok, err := s.store.GetTool(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("tool %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, tool)
}

// invokeRequest is the POST /v1/tools/{id}/invoke body. Executor overrides
// cascade: caller config wins over group config wins over the default.
type invokeRequest struct {
	Params       map[string]any    `json:"params"`
	Env          map[string]string `json:"env,omitempty"`
	CallerConfig *executor.Config  `json:"callerConfig,omitempty"`
	GroupConfig  *executor.Config  `json:"groupConfig,omitempty"`
}

func (s *Server) handleInvokeTool(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, "NO_DISPATCHER", "tool invocation is not configured")
		return
	}

	id := r.PathValue("id")
	tool, ok, err := s.store.GetTool(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("tool %q not found", id))
		return
	}
	pkg, ok, err := s.store.GetPackageByID(r.Context(), tool.PackageID)
	if err != nil || !ok {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "tool package not found")
		return
	}

	var req invokeRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	cfg := executor.Resolve(req.CallerConfig, req.GroupConfig)
	result, err := s.dispatcher.Dispatch(r.Context(), cfg, executor.Request{
		PackageName: pkg.Name,
		Name:        tool.Name,
		Version:     pkg.Version,
		Params:      req.Params,
		Env:         req.Env,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "DISPATCH_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	if s.healthCheck == nil {
		writeError(w, http.StatusServiceUnavailable, "NO_HEALTH_SERVICE", "health checks are not configured")
		return
	}

	id := r.PathValue("id")
	_, ok, err := s.store.GetTool(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("tool %q not found", id))
		return
	}

	s.healthCheck(id)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleListPackages(w http.ResponseWriter, r *http.Request) {
	pkgs, err := s.store.ListPackages(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if pkgs == nil {
		pkgs = []catalog.Package{}
	}
	writeJSON(w, http.StatusOK, pkgs)
}

func (s *Server) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	pkg, ok, err := s.store.GetPackage(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("package %q not found", name))
		return
	}

	tools, err := s.store.ListToolsByPackage(r.Context(), pkg.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"package": pkg,
		"tools":   tools,
	})
}

func (s *Server) handleRunSync(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		writeError(w, http.StatusServiceUnavailable, "NO_ORCHESTRATOR", "sync is not configured")
		return
	}

	var (
		log catalog.SyncLog
		err error
	)
	source := r.PathValue("source")
	switch source {
	case syncer.SourceChanges:
		log, err = s.orchestrator.RunChanges(r.Context())
	case syncer.SourceDiscovery:
		log, err = s.orchestrator.RunKeywordDiscovery(r.Context())
	case syncer.SourceMetrics:
		log, err = s.orchestrator.RunMetricsRefresh(r.Context())
	default:
		writeError(w, http.StatusBadRequest, "UNKNOWN_SOURCE", fmt.Sprintf("unknown sync source %q", source))
		return
	}

	if errors.Is(err, syncer.ErrRunLocked) {
		writeError(w, http.StatusConflict, "RUN_IN_PROGRESS", err.Error())
		return
	}
	// A partial or aborted run still produced a log row; return it with
	// the outcome rather than masking it behind a 500.
	writeJSON(w, http.StatusOK, log)
}

func (s *Server) handleListSyncLogs(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	logs, err := s.store.ListSyncLogs(r.Context(), source, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if logs == nil {
		logs = []catalog.SyncLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// verifyExecutorRequest is the POST /v1/executors/verify body.
type verifyExecutorRequest struct {
	URL    string `json:"url"`
	APIKey string `json:"apiKey,omitempty"`
}

func (s *Server) handleVerifyExecutor(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil {
		writeError(w, http.StatusServiceUnavailable, "NO_VERIFIER", "executor verification is not configured")
		return
	}

	var req verifyExecutorRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "MISSING_URL", "url is required")
		return
	}

	writeJSON(w, http.StatusOK, s.verifier.Verify(r.Context(), req.URL, req.APIKey))
}

// decodeBody decodes a JSON body, writing the error response itself on
// failure. An empty body decodes to the zero value.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body exceeds size limit")
		return err
	}
	writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
	return err
}
