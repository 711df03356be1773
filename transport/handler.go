package transport

import (
	"context"
	"encoding/json"
	"html/template"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goliatone/go-appstore-connect/command"
	"github.com/goliatone/go-appstore-connect/core"
	"github.com/goliatone/go-appstore-connect/query"
	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

const defaultInterstitialDelaySeconds = 3

// InstallService is the handshake surface the HTTP layer drives.
type InstallService interface {
	Install(ctx context.Context, req core.InstallRequest) (core.InstallResponse, error)
	CompleteCallback(ctx context.Context, req core.CallbackRequest) (core.CallbackResult, error)
}

// Handler serves the install handshake plus the operator surface. Reads go
// through the query bus, revocation through the command bus.
type Handler struct {
	config        core.Config
	service       InstallService
	getQuery      *query.GetInstallationQuery
	listQuery     *query.ListInstallationsQuery
	revokeCommand *command.RevokeInstallCommand
	logger        core.Logger
}

func NewHandler(
	cfg core.Config,
	service InstallService,
	reader query.InstallationReader,
	mutator command.MutatingService,
	logger core.Logger,
) *Handler {
	return &Handler{
		config:        cfg,
		service:       service,
		getQuery:      query.NewGetInstallationQuery(reader),
		listQuery:     query.NewListInstallationsQuery(reader),
		revokeCommand: command.NewRevokeInstallCommand(mutator),
		logger:        glog.Ensure(logger),
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/install", h.install)
	r.Get("/callback", h.callback)
	r.Get("/installations", h.listInstallations)
	r.Get("/installations/{vendorID}", h.getInstallation)
	r.Delete("/installations/{vendorID}", h.revokeInstallation)
	r.Get("/healthz", h.healthz)
}

func (h *Handler) install(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		h.renderError(w, r, transportError(
			"transport: install service is required",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			nil,
		))
		return
	}
	out, err := h.service.Install(r.Context(), core.InstallRequest{Params: flattenQuery(r.URL.Query())})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	if h.config.Install.Interstitial {
		h.renderInterstitial(w, r, out)
		return
	}
	http.Redirect(w, r, out.RedirectURL, http.StatusFound)
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		h.renderError(w, r, transportError(
			"transport: callback service is required",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			nil,
		))
		return
	}
	out, err := h.service.CompleteCallback(r.Context(), core.CallbackRequest{Params: flattenQuery(r.URL.Query())})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.renderJSON(w, r, http.StatusOK, map[string]any{
		"status":    "installed",
		"domain":    out.Record.Domain,
		"vendor_id": out.Record.VendorID,
	})
}

func (h *Handler) getInstallation(w http.ResponseWriter, r *http.Request) {
	msg := query.GetInstallationMessage{VendorID: chi.URLParam(r, "vendorID")}
	if err := msg.Validate(); err != nil {
		h.renderError(w, r, err)
		return
	}
	installation, err := h.getQuery.Query(r.Context(), msg)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.renderJSON(w, r, http.StatusOK, newInstallationPayload(installation))
}

func (h *Handler) listInstallations(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	msg := query.ListInstallationsMessage{Filter: filter}
	if err := msg.Validate(); err != nil {
		h.renderError(w, r, err)
		return
	}
	installations, err := h.listQuery.Query(r.Context(), msg)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	payloads := make([]installationPayload, 0, len(installations))
	for _, installation := range installations {
		payloads = append(payloads, newInstallationPayload(installation))
	}
	h.renderJSON(w, r, http.StatusOK, map[string]any{
		"installations": payloads,
		"count":         len(payloads),
	})
}

func (h *Handler) revokeInstallation(w http.ResponseWriter, r *http.Request) {
	msg := command.RevokeInstallMessage{VendorID: chi.URLParam(r, "vendorID")}
	if err := msg.Validate(); err != nil {
		h.renderError(w, r, err)
		return
	}
	collector := gocmd.NewResult[core.Installation]()
	ctx := gocmd.ContextWithResult(r.Context(), collector)
	if err := h.revokeCommand.Execute(ctx, msg); err != nil {
		h.renderError(w, r, err)
		return
	}
	installation, ok := collector.Load()
	if !ok {
		h.renderError(w, r, transportError(
			"transport: revoke produced no result",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			map[string]any{"vendor_id": msg.VendorID},
		))
		return
	}
	h.renderJSON(w, r, http.StatusOK, newInstallationPayload(installation))
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	h.renderJSON(w, r, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": h.config.ServiceName,
	})
}

type installationPayload struct {
	ID          string     `json:"id"`
	VendorID    string     `json:"vendor_id"`
	User        string     `json:"user"`
	Domain      string     `json:"domain"`
	Scope       string     `json:"scope"`
	InstalledAt time.Time  `json:"installed_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	Revoked     bool       `json:"revoked"`
}

// newInstallationPayload shapes the operator response. The stored access
// token stays out of the HTTP surface.
func newInstallationPayload(installation core.Installation) installationPayload {
	return installationPayload{
		ID:          installation.ID,
		VendorID:    installation.VendorID,
		User:        installation.User,
		Domain:      installation.Domain,
		Scope:       installation.Scope,
		InstalledAt: installation.InstalledAt,
		UpdatedAt:   installation.UpdatedAt,
		RevokedAt:   installation.RevokedAt,
		Revoked:     installation.Revoked(),
	}
}

func parseListFilter(r *http.Request) (core.InstallationFilter, error) {
	values := r.URL.Query()
	filter := core.InstallationFilter{
		Domain: strings.TrimSpace(values.Get("domain")),
	}
	if raw := strings.TrimSpace(values.Get("include_revoked")); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, transportError(
				"transport: include_revoked must be a boolean",
				goerrors.CategoryBadInput,
				http.StatusBadRequest,
				map[string]any{"include_revoked": raw},
			)
		}
		filter.IncludeRevoked = include
	}
	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return filter, transportError(
				"transport: limit must be an integer",
				goerrors.CategoryBadInput,
				http.StatusBadRequest,
				map[string]any{"limit": raw},
			)
		}
		filter.Limit = limit
	}
	if raw := strings.TrimSpace(values.Get("offset")); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			return filter, transportError(
				"transport: offset must be an integer",
				goerrors.CategoryBadInput,
				http.StatusBadRequest,
				map[string]any{"offset": raw},
			)
		}
		filter.Offset = offset
	}
	return filter, nil
}

// flattenQuery keeps the first value per key, matching signature semantics:
// every inbound parameter is signed exactly once.
func flattenQuery(values map[string][]string) map[string]string {
	params := make(map[string]string, len(values))
	for key, list := range values {
		if len(list) == 0 {
			params[key] = ""
			continue
		}
		params[key] = list[0]
	}
	return params
}

type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	rich := core.MapError(err)
	if rich == nil {
		rich = core.MapError(transportError(
			"transport: unknown failure",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			nil,
		))
	}
	status := rich.Code
	if status == 0 {
		status = http.StatusInternalServerError
	}
	h.renderJSON(w, r, status, errorEnvelope{Error: rich.TextCode, Message: rich.Message})
}

func (h *Handler) renderJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logEncodeFailure(r, err)
	}
}

func (h *Handler) logEncodeFailure(r *http.Request, err error) {
	if h == nil || h.logger == nil {
		return
	}
	fields := map[string]any{
		"event_type": "http_encode",
		"path":       r.URL.Path,
		"error":      err.Error(),
	}
	logger := h.logger.WithContext(r.Context())
	if fieldsLogger, ok := logger.(core.FieldsLogger); ok {
		logger = fieldsLogger.WithFields(fields)
	}
	logger.Error("response encoding failed", logFields(fields)...)
}

type interstitialData struct {
	Domain       string
	RedirectURL  string
	DelaySeconds int
}

var interstitialTemplate = template.Must(template.New("interstitial").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="{{.DelaySeconds}};url={{.RedirectURL}}">
<title>Connecting {{.Domain}}</title>
</head>
<body>
<p>Connecting the <strong>{{.Domain}}</strong> marketplace account&hellip;</p>
<p>You will be redirected automatically. <a href="{{.RedirectURL}}">Continue now</a>.</p>
</body>
</html>
`))

func (h *Handler) renderInterstitial(w http.ResponseWriter, r *http.Request, out core.InstallResponse) {
	delay := h.config.Install.InterstitialDelaySeconds
	if delay <= 0 {
		delay = defaultInterstitialDelaySeconds
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	err := interstitialTemplate.Execute(w, interstitialData{
		Domain:       out.Context.Domain,
		RedirectURL:  out.RedirectURL,
		DelaySeconds: delay,
	})
	if err != nil {
		h.logEncodeFailure(r, err)
	}
}

func logFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}
