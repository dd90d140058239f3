package match

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// DefaultRegistrationCachePath is the default path for the registration cache
const DefaultRegistrationCachePath = ".registration-cache.json"

// FrameRegistration is the stored outcome of registering one frame.
type FrameRegistration struct {
	Transform   Transform   `json:"transform"`
	Homography  *Homography `json:"homography,omitempty"`
	Diagnostics Diagnostics `json:"diagnostics"`
	Error       string      `json:"error,omitempty"`
	UpdatedAt   int64       `json:"updatedAt"`
}

// RegistrationCache stores per-frame transforms against one reference frame.
type RegistrationCache struct {
	Reference   string                       `json:"reference"`
	Frames      map[string]FrameRegistration `json:"frames"`
	LastUpdated int64                        `json:"lastUpdated"`
}

// NewRegistrationCache returns an empty cache for reference. The reference
// frame maps onto itself.
func NewRegistrationCache(reference string) *RegistrationCache {
	c := &RegistrationCache{
		Reference: reference,
		Frames:    make(map[string]FrameRegistration),
	}
	h := IdentityHomography()
	c.Frames[reference] = FrameRegistration{Transform: IdentityTransform(), Homography: &h, UpdatedAt: time.Now().Unix()}
	return c
}

// LoadRegistrations loads the cache from a JSON file. A missing file is not
// an error: it returns nil, nil.
func LoadRegistrations(path string) (*RegistrationCache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // nothing registered yet
		}
		return nil, fmt.Errorf("reading registration file: %w", err)
	}

	var c RegistrationCache
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing registration file: %w", err)
	}
	if c.Frames == nil {
		c.Frames = make(map[string]FrameRegistration)
	}
	return &c, nil
}

// SaveRegistrations writes the cache to a JSON file
func SaveRegistrations(path string, c *RegistrationCache) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating registration directory: %w", err)
	}

	c.LastUpdated = time.Now().Unix()

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling registration data: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing registration file: %w", err)
	}

	return nil
}

// Record stores the outcome of one frame. Hard failures keep any earlier
// transform for the frame and only record the error.
func (c *RegistrationCache) Record(r FrameResult) {
	if c.Frames == nil {
		c.Frames = make(map[string]FrameRegistration)
	}
	reg := c.Frames[r.FrameID]
	reg.UpdatedAt = time.Now().Unix()
	reg.Error = ""
	if r.Err != nil {
		reg.Error = r.Err.Error()
	}
	if r.Result != nil {
		reg.Transform = r.Result.Transform
		reg.Homography = r.Result.Homography
		reg.Diagnostics = r.Result.Diagnostics
	}
	c.Frames[r.FrameID] = reg
}

// TransformFor returns the stored transform for a frame, or identity.
func (c *RegistrationCache) TransformFor(frameID string) Transform {
	if c == nil || c.Frames == nil {
		return IdentityTransform()
	}
	if reg, ok := c.Frames[frameID]; ok && reg.Transform.Order.Terms() > 0 {
		return reg.Transform
	}
	return IdentityTransform()
}

// HasTransform reports whether frameID has a stored transform, which a later
// registration of the same frame can start from.
func (c *RegistrationCache) HasTransform(frameID string) bool {
	if c == nil {
		return false
	}
	reg, ok := c.Frames[frameID]
	return ok && reg.Transform.Order.Terms() > 0
}

// RegistrationStatus summarises which frames are registered.
type RegistrationStatus struct {
	Reference   string            `json:"reference"`
	Registered  []string          `json:"registered"`
	Missing     []string          `json:"missing"`
	LastUpdated time.Time         `json:"lastUpdated"`
	Errors      map[string]string `json:"errors,omitempty"`
}

// Status reports registration state against the expected frame IDs.
func (c *RegistrationCache) Status(expected []string) RegistrationStatus {
	status := RegistrationStatus{
		Errors: make(map[string]string),
	}

	if c == nil {
		status.Missing = expected
		return status
	}

	status.Reference = c.Reference
	status.LastUpdated = time.Unix(c.LastUpdated, 0)

	registered := make(map[string]bool)
	for id, reg := range c.Frames {
		if reg.Error != "" {
			status.Errors[id] = reg.Error
			if reg.Transform.Order.Terms() == 0 {
				continue
			}
		}
		status.Registered = append(status.Registered, id)
		registered[id] = true
	}
	sort.Strings(status.Registered)

	for _, id := range expected {
		if !registered[id] {
			status.Missing = append(status.Missing, id)
		}
	}

	return status
}

// NeedsRegistration reports whether frameID has no registration newer than maxAge.
func (c *RegistrationCache) NeedsRegistration(frameID string, maxAge time.Duration) bool {
	if c == nil {
		return true
	}
	reg, ok := c.Frames[frameID]
	if !ok || reg.UpdatedAt == 0 || reg.Transform.Order.Terms() == 0 {
		return true
	}
	return time.Since(time.Unix(reg.UpdatedAt, 0)) > maxAge
}
