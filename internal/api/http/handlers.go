package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	analytics "moldwatch-cloud/internal/analytics/domain"
	"moldwatch-cloud/internal/audit"
	"moldwatch-cloud/internal/auth"
	masterdata "moldwatch-cloud/internal/masterdata/domain"
	"moldwatch-cloud/internal/observability/metrics"
	"moldwatch-cloud/internal/reports"
	timeline "moldwatch-cloud/internal/timeline/domain"
)

const timeLayout = time.RFC3339

// TimelineProvider rebuilds a reconciled site timeline for a window.
type TimelineProvider interface {
	Timeline(ctx context.Context, siteID string, from, to time.Time) ([]timeline.ReconciledSnapshot, error)
}

// ThresholdResolver returns the delta thresholds that apply to a site.
type ThresholdResolver func(siteID string) analytics.DeltaThresholds

// SitesHandler serves GET /api/v1/sites.
type SitesHandler struct {
	sites    masterdata.SiteRepository
	tenantID string
}

// NewSitesHandler constructs a sites list handler.
func NewSitesHandler(sites masterdata.SiteRepository, tenantID string) (*SitesHandler, error) {
	if sites == nil {
		return nil, errors.New("sites handler: nil repository")
	}
	if tenantID == "" {
		return nil, errors.New("sites handler: empty tenant id")
	}
	return &SitesHandler{sites: sites, tenantID: tenantID}, nil
}

type siteView struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Timezone        string  `json:"timezone"`
	SiteType        string  `json:"site_type,omitempty"`
	Region          string  `json:"region,omitempty"`
	FloorplanWidth  float64 `json:"floorplan_width"`
	FloorplanHeight float64 `json:"floorplan_height"`
}

// ServeHTTP lists the tenant's sites.
func (h *SitesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID == "" {
		tenantID = h.tenantID
	}
	sites, err := h.sites.ListByTenant(r.Context(), tenantID)
	if err != nil {
		http.Error(w, "list sites error", http.StatusInternalServerError)
		return
	}
	views := make([]siteView, 0, len(sites))
	for _, site := range sites {
		views = append(views, newSiteView(site))
	}
	writeJSON(w, views)
}

func newSiteView(site masterdata.Site) siteView {
	return siteView{
		ID:              site.ID,
		Name:            site.Name,
		Timezone:        site.Timezone,
		SiteType:        site.SiteType,
		Region:          site.Region,
		FloorplanWidth:  site.FloorplanWidth,
		FloorplanHeight: site.FloorplanHeight,
	}
}

// SiteRoutes serves the per-site dashboard endpoints under /api/v1/sites/{id}:
// site detail, devices, placements, timeline, analytics and report exports.
type SiteRoutes struct {
	timelines   TimelineProvider
	sites       masterdata.SiteRepository
	devices     masterdata.DeviceRepository
	placements  masterdata.PlacementRepository
	thresholds  ThresholdResolver
	siteChecker auth.SiteTenantChecker
	auditLogger audit.Logger
	tenantID    string
}

// NewSiteRoutes constructs the per-site route handler.
func NewSiteRoutes(timelines TimelineProvider, sites masterdata.SiteRepository, devices masterdata.DeviceRepository, placements masterdata.PlacementRepository, thresholds ThresholdResolver, siteChecker auth.SiteTenantChecker, auditLogger audit.Logger, tenantID string) (*SiteRoutes, error) {
	if timelines == nil {
		return nil, errors.New("site routes: nil timeline provider")
	}
	if sites == nil {
		return nil, errors.New("site routes: nil site repository")
	}
	if tenantID == "" {
		return nil, errors.New("site routes: empty tenant id")
	}
	return &SiteRoutes{
		timelines:   timelines,
		sites:       sites,
		devices:     devices,
		placements:  placements,
		thresholds:  thresholds,
		siteChecker: siteChecker,
		auditLogger: auditLogger,
		tenantID:    tenantID,
	}, nil
}

// ServeHTTP dispatches /api/v1/sites/{id}[/subresource].
func (h *SiteRoutes) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/sites"), "/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}
	siteID := rest
	sub := ""
	if i := strings.Index(rest, "/"); i >= 0 {
		siteID = rest[:i]
		sub = rest[i+1:]
	}
	if siteID == "" {
		http.NotFound(w, r)
		return
	}

	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID != "" && h.siteChecker != nil {
		if err := h.siteChecker.EnsureSiteTenant(r.Context(), tenantID, siteID); err != nil {
			respondTenantError(w, err)
			return
		}
	}

	switch sub {
	case "":
		h.handleSiteDetail(w, r, siteID)
	case "devices":
		h.handleDevices(w, r, siteID)
	case "placements":
		h.handlePlacements(w, r, siteID)
	case "timeline":
		h.handleTimeline(w, r, siteID)
	case "analytics":
		h.handleAnalytics(w, r, siteID)
	case "export.csv":
		h.handleExport(w, r, siteID, "csv")
	case "export.pdf":
		h.handleExport(w, r, siteID, "pdf")
	case "export.xlsx":
		h.handleExport(w, r, siteID, "xlsx")
	default:
		http.NotFound(w, r)
	}
}

func (h *SiteRoutes) handleSiteDetail(w http.ResponseWriter, r *http.Request, siteID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	site, err := h.sites.Get(r.Context(), siteID)
	if err != nil {
		http.Error(w, "load site error", http.StatusInternalServerError)
		return
	}
	if site == nil {
		http.Error(w, "site not found", http.StatusNotFound)
		return
	}
	writeJSON(w, newSiteView(*site))
}

type deviceView struct {
	ID         string `json:"id"`
	SiteID     string `json:"site_id"`
	MAC        string `json:"mac,omitempty"`
	DeviceCode string `json:"device_code,omitempty"`
	SensorKind string `json:"sensor_kind,omitempty"`
	Name       string `json:"name,omitempty"`
}

func (h *SiteRoutes) handleDevices(w http.ResponseWriter, r *http.Request, siteID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.devices == nil {
		http.Error(w, "devices unavailable", http.StatusNotFound)
		return
	}
	devices, err := h.devices.ListBySite(r.Context(), siteID)
	if err != nil {
		http.Error(w, "list devices error", http.StatusInternalServerError)
		return
	}
	views := make([]deviceView, 0, len(devices))
	for _, device := range devices {
		views = append(views, deviceView{
			ID:         device.ID,
			SiteID:     device.SiteID,
			MAC:        device.MAC,
			DeviceCode: device.DeviceCode,
			SensorKind: device.SensorKind,
			Name:       device.Name,
		})
	}
	writeJSON(w, views)
}

type placementView struct {
	ID       string  `json:"id"`
	SiteID   string  `json:"site_id"`
	DeviceID string  `json:"device_id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Zone     string  `json:"zone,omitempty"`
	Active   bool    `json:"active"`
}

func (h *SiteRoutes) handlePlacements(w http.ResponseWriter, r *http.Request, siteID string) {
	if h.placements == nil {
		http.Error(w, "placements unavailable", http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		placements, err := h.placements.ListBySite(r.Context(), siteID)
		if err != nil {
			http.Error(w, "list placements error", http.StatusInternalServerError)
			return
		}
		views := make([]placementView, 0, len(placements))
		for _, placement := range placements {
			views = append(views, placementView{
				ID:       placement.ID,
				SiteID:   placement.SiteID,
				DeviceID: placement.DeviceID,
				X:        placement.X,
				Y:        placement.Y,
				Zone:     placement.Zone,
				Active:   placement.Active,
			})
		}
		writeJSON(w, views)
	case http.MethodPost:
		var view placementView
		if err := json.NewDecoder(r.Body).Decode(&view); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		placement := &masterdata.Placement{
			ID:       view.ID,
			SiteID:   siteID,
			DeviceID: view.DeviceID,
			X:        view.X,
			Y:        view.Y,
			Zone:     view.Zone,
			Active:   true,
		}
		if placement.ID == "" {
			placement.ID = fmt.Sprintf("plc-%s-%d", placement.DeviceID, time.Now().UTC().UnixNano())
		}
		if err := placement.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := h.placements.Save(r.Context(), placement); err != nil {
			http.Error(w, "save placement error", http.StatusInternalServerError)
			return
		}
		h.logAudit(r, "placement.record", "placement", placement.ID, siteID, map[string]any{
			"device_id": placement.DeviceID,
			"zone":      placement.Zone,
		})
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": placement.ID})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type timelineResponse struct {
	SiteID    string                        `json:"site_id"`
	From      string                        `json:"from"`
	To        string                        `json:"to"`
	Snapshots []timeline.ReconciledSnapshot `json:"snapshots"`
	Analytics *analyticsView                `json:"analytics,omitempty"`
}

type analyticsView struct {
	Aggregates map[analytics.Metric]analytics.Aggregate       `json:"aggregates"`
	Velocities map[analytics.Metric]analytics.VelocitySummary `json:"velocities"`
	Outliers   []analytics.Outlier                            `json:"outliers"`
	Deltas     []analytics.DeltaEvent                         `json:"deltas"`
}

func (h *SiteRoutes) handleTimeline(w http.ResponseWriter, r *http.Request, siteID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	from, to, ok := parseWindow(w, r)
	if !ok {
		return
	}
	snapshots, err := h.timelines.Timeline(r.Context(), siteID, from, to)
	if err != nil {
		http.Error(w, "timeline error", http.StatusInternalServerError)
		return
	}
	resp := timelineResponse{
		SiteID:    siteID,
		From:      from.UTC().Format(timeLayout),
		To:        to.UTC().Format(timeLayout),
		Snapshots: snapshots,
	}
	if wantAnalytics(r) {
		view := h.buildAnalytics(siteID, snapshots)
		resp.Analytics = &view
	}
	writeJSON(w, resp)
}

func (h *SiteRoutes) handleAnalytics(w http.ResponseWriter, r *http.Request, siteID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	from, to, ok := parseWindow(w, r)
	if !ok {
		return
	}
	snapshots, err := h.timelines.Timeline(r.Context(), siteID, from, to)
	if err != nil {
		http.Error(w, "timeline error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.buildAnalytics(siteID, snapshots))
}

func (h *SiteRoutes) buildAnalytics(siteID string, snapshots []timeline.ReconciledSnapshot) analyticsView {
	aggregates := analytics.Aggregates(snapshots)
	thresholds := analytics.DefaultDeltaThresholds()
	if h.thresholds != nil {
		thresholds = h.thresholds(siteID)
	}
	return analyticsView{
		Aggregates: aggregates,
		Velocities: analytics.VelocitySummaries(analytics.Velocities(snapshots)),
		Outliers:   analytics.Outliers(snapshots, aggregates),
		Deltas:     analytics.Deltas(snapshots, thresholds),
	}
}

func (h *SiteRoutes) handleExport(w http.ResponseWriter, r *http.Request, siteID, format string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	from, to, ok := parseWindow(w, r)
	if !ok {
		return
	}

	started := time.Now()
	snapshots, err := h.timelines.Timeline(r.Context(), siteID, from, to)
	if err != nil {
		metrics.ObserveReportExport(format, metrics.ResultError, time.Since(started))
		http.Error(w, "timeline error", http.StatusInternalServerError)
		return
	}
	site, err := h.sites.Get(r.Context(), siteID)
	if err != nil {
		metrics.ObserveReportExport(format, metrics.ResultError, time.Since(started))
		http.Error(w, "load site error", http.StatusInternalServerError)
		return
	}
	thresholds := analytics.DefaultDeltaThresholds()
	if h.thresholds != nil {
		thresholds = h.thresholds(siteID)
	}
	report := reports.BuildSiteReport(site, siteID, snapshots, thresholds, from, to)

	filename := fmt.Sprintf("site-%s-report.%s", siteID, format)
	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		err = reports.WriteSiteReportCSV(w, report)
	case "pdf":
		var data []byte
		data, err = reports.BuildSiteReportPDF(report)
		if err == nil {
			w.Header().Set("Content-Type", "application/pdf")
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
			_, err = w.Write(data)
		}
	case "xlsx":
		var data []byte
		data, err = reports.BuildSiteReportXLSX(report)
		if err == nil {
			w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
			_, err = w.Write(data)
		}
	default:
		http.Error(w, "unsupported format", http.StatusBadRequest)
		return
	}
	if err != nil {
		metrics.ObserveReportExport(format, metrics.ResultError, time.Since(started))
		http.Error(w, "export error", http.StatusInternalServerError)
		return
	}
	metrics.ObserveReportExport(format, metrics.ResultSuccess, time.Since(started))

	h.logAudit(r, "report.export", "report", report.ReportID, siteID, map[string]any{
		"format": format,
		"from":   from.UTC().Format(timeLayout),
		"to":     to.UTC().Format(timeLayout),
	})
}

func (h *SiteRoutes) logAudit(r *http.Request, action, resourceType, resourceID, siteID string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID == "" {
		tenantID = h.tenantID
	}
	metadata, _ := json.Marshal(meta)
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		TenantID:     tenantID,
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		SiteID:       siteID,
		Metadata:     metadata,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

// parseWindow reads from/to query params and validates the window.
func parseWindow(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	from, ok := parseTimeQuery(w, r, "from")
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	to, ok := parseTimeQuery(w, r, "to")
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func parseTimeQuery(w http.ResponseWriter, r *http.Request, key string) (time.Time, bool) {
	value := r.URL.Query().Get(key)
	if value == "" {
		http.Error(w, key+" is required", http.StatusBadRequest)
		return time.Time{}, false
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		http.Error(w, key+" must be RFC3339", http.StatusBadRequest)
		return time.Time{}, false
	}
	return parsed, true
}

func wantAnalytics(r *http.Request) bool {
	switch strings.ToLower(r.URL.Query().Get("analytics")) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func respondTenantError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, auth.ErrTenantMismatch) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if errors.Is(err, auth.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.Error(w, "tenant check failed", http.StatusInternalServerError)
}
