package application

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"

	"moldwatch-cloud/internal/devicecloud"
	masterdata "moldwatch-cloud/internal/masterdata/domain"
	masterdatarepo "moldwatch-cloud/internal/masterdata/infrastructure/postgres"
)

// ProvisionRequest defines site provisioning payload.
type ProvisionRequest struct {
	Site    SiteInput     `json:"site"`
	Devices []DeviceInput `json:"devices"`
}

// SiteInput describes a site to provision.
type SiteInput struct {
	ID              string  `json:"id"`
	TenantID        string  `json:"tenant_id"`
	Name            string  `json:"name"`
	Timezone        string  `json:"timezone"`
	Type            string  `json:"type"`
	Region          string  `json:"region"`
	FloorplanWidth  float64 `json:"floorplan_width"`
	FloorplanHeight float64 `json:"floorplan_height"`
}

// DeviceInput describes a sensor node to provision.
type DeviceInput struct {
	ID         string          `json:"id"`
	MAC        string          `json:"mac"`
	DeviceCode string          `json:"device_code"`
	SensorKind string          `json:"sensor_kind"`
	Name       string          `json:"name"`
	Placement  *PlacementInput `json:"placement"`
}

// PlacementInput pins a device on the site floorplan.
type PlacementInput struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zone string  `json:"zone"`
}

// ProvisionResponse summarizes provisioning output.
type ProvisionResponse struct {
	SiteID  string          `json:"site_id"`
	Gateway GatewaySummary  `json:"gateway"`
	Devices []DeviceSummary `json:"devices"`
}

// GatewaySummary reports gateway registration info.
type GatewaySummary struct {
	Registered int `json:"registered"`
	Skipped    int `json:"skipped"`
}

// DeviceSummary is a per-device provisioning summary.
type DeviceSummary struct {
	DeviceID        string `json:"device_id"`
	MAC             string `json:"mac,omitempty"`
	GatewayDeviceID string `json:"gateway_device_id,omitempty"`
	PlacementID     string `json:"placement_id,omitempty"`
}

// Service provisions sites, devices and placements, and registers the
// devices with the LAN gateway.
type Service struct {
	db      *sql.DB
	gateway *devicecloud.Client
}

// NewService constructs a provisioning service.
func NewService(db *sql.DB, gateway *devicecloud.Client) (*Service, error) {
	if db == nil {
		return nil, errors.New("provisioning: nil db")
	}
	if gateway == nil {
		return nil, errors.New("provisioning: nil gateway client")
	}
	return &Service{db: db, gateway: gateway}, nil
}

// ProvisionSite persists masterdata and syncs gateway registrations.
func (s *Service) ProvisionSite(ctx context.Context, req ProvisionRequest) (*ProvisionResponse, error) {
	if err := validateProvision(req); err != nil {
		return nil, err
	}

	siteID := req.Site.ID
	if siteID == "" {
		siteID = stableID("site", req.Site.TenantID+"|"+req.Site.Name)
	}
	for i := range req.Devices {
		if req.Devices[i].ID == "" {
			key := req.Devices[i].MAC
			if key == "" {
				key = req.Devices[i].Name
			}
			req.Devices[i].ID = stableID("device", siteID+"|"+key)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	siteRepo := masterdatarepo.NewSiteRepository(tx)
	deviceRepo := masterdatarepo.NewDeviceRepository(tx)
	placementRepo := masterdatarepo.NewPlacementRepository(tx)

	site := &masterdata.Site{
		ID:              siteID,
		TenantID:        req.Site.TenantID,
		Name:            req.Site.Name,
		Timezone:        req.Site.Timezone,
		SiteType:        req.Site.Type,
		Region:          req.Site.Region,
		FloorplanWidth:  req.Site.FloorplanWidth,
		FloorplanHeight: req.Site.FloorplanHeight,
	}
	if err := siteRepo.Save(ctx, site); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	summaries := make([]DeviceSummary, 0, len(req.Devices))
	for _, input := range req.Devices {
		device := &masterdata.Device{
			ID:         input.ID,
			SiteID:     siteID,
			MAC:        strings.ToLower(input.MAC),
			DeviceCode: input.DeviceCode,
			SensorKind: input.SensorKind,
			Name:       input.Name,
		}
		if err := deviceRepo.Save(ctx, device); err != nil {
			_ = tx.Rollback()
			return nil, err
		}

		summary := DeviceSummary{DeviceID: input.ID, MAC: device.MAC}
		if input.Placement != nil {
			placement := &masterdata.Placement{
				ID:       stableID("plc", siteID+"|"+input.ID),
				SiteID:   siteID,
				DeviceID: input.ID,
				X:        input.Placement.X,
				Y:        input.Placement.Y,
				Zone:     input.Placement.Zone,
				Active:   true,
			}
			if err := placementRepo.Save(ctx, placement); err != nil {
				_ = tx.Rollback()
				return nil, err
			}
			summary.PlacementID = placement.ID
		}
		summaries = append(summaries, summary)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	// Gateway registration happens after commit. Devices without a MAC
	// never talk to the gateway and are skipped.
	resp := &ProvisionResponse{SiteID: siteID, Devices: summaries}
	for i, input := range req.Devices {
		if input.MAC == "" {
			resp.Gateway.Skipped++
			continue
		}
		registered, err := s.gateway.RegisterDevice(ctx, input.MAC, input.Name, input.SensorKind)
		if err != nil {
			return nil, err
		}
		if err := s.gateway.SetDeviceAttributes(ctx, input.MAC, map[string]any{
			"device_id": input.ID,
			"site_id":   siteID,
			"kind":      input.SensorKind,
		}); err != nil {
			return nil, err
		}
		resp.Devices[i].GatewayDeviceID = registered.ID
		resp.Gateway.Registered++
	}
	return resp, nil
}

func validateProvision(req ProvisionRequest) error {
	if req.Site.TenantID == "" {
		return errors.New("provisioning: missing site tenant_id")
	}
	if req.Site.Name == "" {
		return errors.New("provisioning: missing site name")
	}
	if req.Site.Timezone == "" {
		return errors.New("provisioning: missing site timezone")
	}
	if len(req.Devices) == 0 {
		return errors.New("provisioning: devices required")
	}
	for _, device := range req.Devices {
		if device.MAC == "" && device.Name == "" {
			return errors.New("provisioning: device needs mac or name")
		}
		if device.Placement != nil && (device.Placement.X < 0 || device.Placement.Y < 0) {
			return errors.New("provisioning: negative placement coordinates")
		}
	}
	return nil
}

func stableID(prefix, key string) string {
	sum := sha1.Sum([]byte(key))
	return prefix + "-" + hex.EncodeToString(sum[:8])
}
