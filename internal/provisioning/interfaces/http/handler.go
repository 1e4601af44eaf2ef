package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"moldwatch-cloud/internal/audit"
	"moldwatch-cloud/internal/auth"
	provisioning "moldwatch-cloud/internal/provisioning/application"
)

// SiteProvisioningHandler handles site provisioning requests.
type SiteProvisioningHandler struct {
	service     *provisioning.Service
	auditLogger audit.Logger
}

// NewSiteProvisioningHandler constructs a handler.
func NewSiteProvisioningHandler(service *provisioning.Service, auditLogger audit.Logger) (*SiteProvisioningHandler, error) {
	if service == nil {
		return nil, errors.New("provisioning handler: nil service")
	}
	return &SiteProvisioningHandler{service: service, auditLogger: auditLogger}, nil
}

// ServeHTTP handles POST /api/v1/provisioning/sites.
func (h *SiteProvisioningHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req provisioning.ProvisionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID != "" && req.Site.TenantID != "" && req.Site.TenantID != tenantID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if tenantID != "" {
		req.Site.TenantID = tenantID
	}

	resp, err := h.service.ProvisionSite(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
	h.logAudit(r, req.Site.TenantID, resp.SiteID)
}

func (h *SiteProvisioningHandler) logAudit(r *http.Request, tenantID, siteID string) {
	if h.auditLogger == nil || tenantID == "" {
		return
	}
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		TenantID:     tenantID,
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       "provision.site",
		ResourceType: "site",
		ResourceID:   siteID,
		SiteID:       siteID,
		Metadata:     nil,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}
