package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sushazhi/fnos-logmanager/audit"
	"github.com/sushazhi/fnos-logmanager/docker"
	"github.com/sushazhi/fnos-logmanager/logfiles"
)

const (
	maxListLimit   = 500
	maxSearchLimit = 200
	maxCleanDays   = 3650

	defaultDockerLines = 100
	// maxAuditPathLen bounds how much of a rejected path is written to the
	// audit log.
	maxAuditPathLen = 256
)

// intParam parses an optional integer query parameter within [lo, hi].
func intParam(q url.Values, name string, def, lo, hi int) (int, *apiError) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || n > hi {
		return 0, validationError("%s must be an integer between %d and %d", name, lo, hi)
	}
	return n, nil
}

func boolParam(q url.Values, name string) bool {
	b, _ := strconv.ParseBool(q.Get(name))
	return b
}

// authorizePath runs the path gate. Rejections are audited and answered
// with PATH_REJECTED.
func (a *API) authorizePath(w http.ResponseWriter, r *http.Request, p string) (string, bool) {
	if p == "" {
		writeAPIError(w, validationError("path is required"))
		return "", false
	}
	clean, err := a.files.Authorize(p)
	if err != nil {
		a.metrics.gate(gatePath, false)
		if len(p) > maxAuditPathLen {
			p = p[:maxAuditPathLen]
		}
		a.record(r, audit.ActionPathRejected, map[string]any{
			"path":   p,
			"reason": err.Error(),
		})
		writeAPIError(w, errPathRejected)
		return "", false
	}
	a.metrics.gate(gatePath, true)
	return clean, true
}

// ListDirs handles GET /dirs.
func (a *API) ListDirs(w http.ResponseWriter, r *http.Request) {
	dirs, err := a.files.Dirs(r.Context())
	if err != nil {
		a.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DirsResponse{Dirs: dirs})
}

// ListLogs handles GET /logs/list.
func (a *API) ListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, perr := intParam(q, "limit", logfiles.DefaultListLimit, 1, maxListLimit)
	if perr != nil {
		writeAPIError(w, perr)
		return
	}
	dir := q.Get("dir")
	if dir != "" {
		var ok bool
		if dir, ok = a.authorizePath(w, r, dir); !ok {
			return
		}
	}
	logs, err := a.files.List(r.Context(), dir, limit)
	if err != nil {
		a.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LogsResponse{Logs: logs, Total: len(logs)})
}

func parseThreshold(q url.Values) (int64, *apiError) {
	v := q.Get("threshold")
	if v == "" {
		return logfiles.DefaultLargeSize, nil
	}
	n, err := logfiles.ParseSize(v)
	if err != nil {
		return 0, validationError("invalid size threshold %q", v)
	}
	return n, nil
}

// LargeLogs handles GET /logs/large.
func (a *API) LargeLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	threshold, perr := parseThreshold(q)
	if perr != nil {
		writeAPIError(w, perr)
		return
	}
	limit, perr := intParam(q, "limit", logfiles.DefaultSearchLimit, 1, maxSearchLimit)
	if perr != nil {
		writeAPIError(w, perr)
		return
	}
	logs, err := a.files.Large(r.Context(), threshold, limit)
	if err != nil {
		a.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LogsResponse{Logs: logs, Total: len(logs)})
}

// SearchLogs handles GET /logs/search.
func (a *API) SearchLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, perr := intParam(q, "limit", logfiles.DefaultSearchLimit, 1, maxSearchLimit)
	if perr != nil {
		writeAPIError(w, perr)
		return
	}

	var (
		logs []logfiles.File
		err  error
	)
	switch q.Get("type") {
	case "size":
		threshold, perr := parseThreshold(q)
		if perr != nil {
			writeAPIError(w, perr)
			return
		}
		logs, err = a.files.Large(r.Context(), threshold, limit)
	case "name", "":
		pattern := q.Get("pattern")
		if pattern == "" {
			writeAPIError(w, validationError("pattern is required"))
			return
		}
		logs, err = a.files.SearchByName(r.Context(), pattern, limit)
	default:
		writeAPIError(w, validationError("type must be size or name"))
		return
	}
	if err != nil {
		a.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LogsResponse{Logs: logs, Total: len(logs)})
}

// LogStats handles GET /logs/stats.
func (a *API) LogStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.files.Stats(r.Context())
	if err != nil {
		a.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// LogContent handles GET /log/content.
func (a *API) LogContent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, ok := a.authorizePath(w, r, q.Get("path"))
	if !ok {
		return
	}
	maxLines, perr := intParam(q, "maxLines", logfiles.DefaultMaxLines, logfiles.MinPreviewLines, logfiles.MaxPreviewLines)
	if perr != nil {
		writeAPIError(w, perr)
		return
	}
	offset, perr := intParam(q, "offset", 0, 0, logfiles.MaxReadOffset)
	if perr != nil {
		writeAPIError(w, perr)
		return
	}

	content, err := a.files.Read(r.Context(), p, logfiles.ReadOptions{
		MaxLines: maxLines,
		Offset:   offset,
		Tail:     boolParam(q, "tail"),
	})
	if err != nil {
		a.mapError(w, err)
		return
	}
	content.Content = a.filter.Apply(content.Content)
	writeJSON(w, http.StatusOK, content)
}

// TruncateLog handles POST /log/truncate.
func (a *API) TruncateLog(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[PathRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	p, ok := a.authorizePath(w, r, req.Path)
	if !ok {
		return
	}
	clean, err := a.files.Truncate(r.Context(), p)
	if err != nil {
		a.mapError(w, err)
		return
	}
	a.record(r, audit.ActionLogTruncate, map[string]any{"path": clean})
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "log truncated"})
}

// DeleteLog handles POST /log/delete.
func (a *API) DeleteLog(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[PathRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	p, ok := a.authorizePath(w, r, req.Path)
	if !ok {
		return
	}
	clean, err := a.files.Delete(r.Context(), p)
	if err != nil {
		a.mapError(w, err)
		return
	}
	a.record(r, audit.ActionLogDelete, map[string]any{"path": clean})
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "log deleted"})
}

// CleanLogs handles POST /logs/clean.
func (a *API) CleanLogs(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[CleanRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	opts := logfiles.CleanOptions{Action: logfiles.CleanAction(req.Action), Days: req.Days}
	if opts.Action == "" {
		opts.Action = logfiles.CleanTruncate
	}
	if req.Days < 0 || req.Days > maxCleanDays {
		writeAPIError(w, validationError("days must be between 0 and %d (0 selects by size)", maxCleanDays))
		return
	}
	if req.Threshold != "" {
		n, err := logfiles.ParseSize(req.Threshold)
		if err != nil {
			writeAPIError(w, validationError("invalid size threshold %q", req.Threshold))
			return
		}
		opts.ThresholdBytes = n
	}

	res, err := a.files.Clean(r.Context(), opts)
	if err != nil {
		a.mapError(w, err)
		return
	}
	a.record(r, audit.ActionLogsClean, map[string]any{
		"action":    string(opts.Action),
		"threshold": req.Threshold,
		"days":      req.Days,
		"cleaned":   res.Cleaned,
		"failed":    len(res.Errors),
	})
	writeJSON(w, http.StatusOK, res)
}

// GetFilter handles GET /settings/filter.
func (a *API) GetFilter(w http.ResponseWriter, r *http.Request) {
	enabled := a.filter.Enabled()
	writeJSON(w, http.StatusOK, FilterSetting{Enabled: &enabled})
}

// SetFilter handles POST /settings/filter.
func (a *API) SetFilter(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[FilterSetting](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	if req.Enabled == nil {
		writeAPIError(w, validationError("enabled must be a boolean"))
		return
	}
	a.filter.SetEnabled(*req.Enabled)
	a.record(r, audit.ActionFilterChanged, map[string]any{"enabled": *req.Enabled})
	writeJSON(w, http.StatusOK, FilterChangedResponse{Success: true, Enabled: *req.Enabled})
}

// ListArchives handles GET /archives/list.
func (a *API) ListArchives(w http.ResponseWriter, r *http.Request) {
	limit, perr := intParam(r.URL.Query(), "limit", logfiles.DefaultArchiveLimit, 1, logfiles.MaxArchiveLimit)
	if perr != nil {
		writeAPIError(w, perr)
		return
	}
	archives, err := a.files.ListArchives(r.Context(), limit)
	if err != nil {
		a.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ArchivesResponse{Archives: archives, Total: len(archives)})
}

// ArchiveContent handles GET /archive/content.
func (a *API) ArchiveContent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, ok := a.authorizePath(w, r, q.Get("path"))
	if !ok {
		return
	}
	lines, perr := intParam(q, "lines", logfiles.DefaultArchiveLines, 1, logfiles.MaxArchiveLines)
	if perr != nil {
		writeAPIError(w, perr)
		return
	}
	content, err := a.files.ReadArchive(r.Context(), p, lines)
	if err != nil {
		a.mapError(w, err)
		return
	}
	content.Content = a.filter.Apply(content.Content)
	writeJSON(w, http.StatusOK, content)
}

// DeleteArchive handles POST /archives/delete.
func (a *API) DeleteArchive(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[PathRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	p, ok := a.authorizePath(w, r, req.Path)
	if !ok {
		return
	}
	clean, err := a.files.DeleteArchive(r.Context(), p)
	if err != nil {
		a.mapError(w, err)
		return
	}
	a.record(r, audit.ActionArchiveDelete, map[string]any{"path": clean})
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "archive deleted"})
}

// ListContainers handles GET /docker/containers. Docker being absent is not
// an error for the UI, so failures are reported inside a 200 response.
func (a *API) ListContainers(w http.ResponseWriter, r *http.Request) {
	containers, err := a.docker.Containers(r.Context())
	if err != nil {
		a.logger.Warn("docker ps failed", "error", err)
		writeJSON(w, http.StatusOK, ContainersResponse{Containers: []docker.Container{}, Error: dockerErrorMessage(err)})
		return
	}
	writeJSON(w, http.StatusOK, ContainersResponse{Containers: containers})
}

// ContainerLogs handles GET /docker/logs.
func (a *API) ContainerLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := q.Get("container")
	if name == "" {
		writeAPIError(w, validationError("container is required"))
		return
	}
	if !docker.ValidName(name) {
		writeAPIError(w, validationError("invalid container name"))
		return
	}
	lines, perr := intParam(q, "lines", defaultDockerLines, 1, docker.MaxTailLines)
	if perr != nil {
		writeAPIError(w, perr)
		return
	}

	out, err := a.docker.Logs(r.Context(), name, lines)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, DockerLogsResponse{Logs: a.filter.Apply(out)})
	case errors.Is(err, docker.ErrTimeout):
		writeAPIError(w, &apiError{http.StatusGatewayTimeout, CodeInternal, dockerErrorMessage(err)})
	case errors.Is(err, docker.ErrUnavailable):
		writeAPIError(w, &apiError{http.StatusServiceUnavailable, CodeInternal, dockerErrorMessage(err)})
	default:
		writeInternalError(w, a.logger, "docker logs failed", err)
	}
}

func dockerErrorMessage(err error) string {
	switch {
	case errors.Is(err, docker.ErrTimeout):
		return docker.ErrTimeout.Error()
	case errors.Is(err, docker.ErrUnavailable):
		return docker.ErrUnavailable.Error()
	default:
		return "failed to query docker"
	}
}

// ListAuditLog handles GET /audit/log. Events are newest first.
func (a *API) ListAuditLog(w http.ResponseWriter, r *http.Request) {
	page := parsePageQuery(r)
	events, total, err := a.audit.Recent(r.Context(), page.limit, page.offset)
	if err != nil {
		writeInternalError(w, a.logger, "failed to read audit log", err)
		return
	}
	writeJSON(w, http.StatusOK, AuditLogResponse{Logs: events, PaginationMeta: page.meta(total, len(events))})
}
