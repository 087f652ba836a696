package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Mode selects how fields are filled.
type Mode string

const (
	// ModeAuto fills every eligible field, applying overrides where given.
	ModeAuto Mode = "auto"
	// ModeManual fills only fields that have an override.
	ModeManual Mode = "manual"
)

func (m Mode) IsValid() bool {
	return m == ModeAuto || m == ModeManual
}

const DefaultSubmitSelector = `button[type="submit"]`

// FieldOverrides maps a field label (name, id or placeholder) to the value
// that replaces the synthetic one. Lookup is case-insensitive.
type FieldOverrides map[string]string

// Lookup returns the override for label, if any.
func (f FieldOverrides) Lookup(label string) (string, bool) {
	if len(f) == 0 || label == "" {
		return "", false
	}
	if v, ok := f[label]; ok {
		return v, true
	}
	for k, v := range f {
		if strings.EqualFold(k, label) {
			return v, true
		}
	}
	return "", false
}

// UnmarshalJSON accepts either an object or an array of {name, value}
// pairs. Older clients always sent an empty array.
func (f *FieldOverrides) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*f = nil
		return nil
	}

	if trimmed[0] == '[' {
		var pairs []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		}
		if err := json.Unmarshal(trimmed, &pairs); err != nil {
			return fmt.Errorf("fields: %w", err)
		}
		out := make(FieldOverrides, len(pairs))
		for _, p := range pairs {
			if p.Name == "" {
				continue
			}
			out[p.Name] = p.Value
		}
		*f = out
		return nil
	}

	var m map[string]string
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return fmt.Errorf("fields: %w", err)
	}
	*f = m
	return nil
}

// Names returns override keys in sorted order.
func (f FieldOverrides) Names() []string {
	names := make([]string, 0, len(f))
	for k := range f {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// TestConfiguration is the immutable input of one session.
type TestConfiguration struct {
	URL             string         `json:"url"`
	Mode            Mode           `json:"mode"`
	Headless        bool           `json:"headless"`
	Fields          FieldOverrides `json:"fields,omitempty"`
	SubmitSelector  string         `json:"submitSelector,omitempty"`
	UseAI           bool           `json:"useAI"`
	SkipNewsletters bool           `json:"skipNewsletters"`
}

// TestRequest is the wire form of a TestConfiguration. Optional booleans are
// pointers so that absent values pick up defaults.
type TestRequest struct {
	URL                  string         `json:"url"`
	Mode                 string         `json:"mode,omitempty"`
	Headless             *bool          `json:"headless,omitempty"`
	Fields               FieldOverrides `json:"fields,omitempty"`
	SubmitSelector       string         `json:"submitSelector,omitempty"`
	LegacySubmitSelector string         `json:"submit_selector,omitempty"`
	UseAI                *bool          `json:"useAI,omitempty"`
	SkipNewsletters      *bool          `json:"skipNewsletters,omitempty"`
}

// ToConfiguration applies defaults and validates the request.
func (r TestRequest) ToConfiguration() (TestConfiguration, error) {
	cfg := TestConfiguration{
		URL:             strings.TrimSpace(r.URL),
		Mode:            Mode(r.Mode),
		Headless:        true,
		Fields:          r.Fields,
		SubmitSelector:  r.SubmitSelector,
		SkipNewsletters: true,
	}
	if cfg.SubmitSelector == "" {
		cfg.SubmitSelector = r.LegacySubmitSelector
	}
	if r.Headless != nil {
		cfg.Headless = *r.Headless
	}
	if r.UseAI != nil {
		cfg.UseAI = *r.UseAI
	}
	if r.SkipNewsletters != nil {
		cfg.SkipNewsletters = *r.SkipNewsletters
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return TestConfiguration{}, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset optional values.
func (c *TestConfiguration) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeAuto
	}
	if c.SubmitSelector == "" {
		c.SubmitSelector = DefaultSubmitSelector
	}
}

// Validate checks the configuration before any browser work.
func (c TestConfiguration) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return ErrConfiguration(MsgURLRequired).WithMetadata("field", "url")
	}
	u, err := url.Parse(c.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrConfiguration(fmt.Sprintf("invalid url: %s", c.URL)).WithMetadata("field", "url")
	}
	if c.Mode != "" && !c.Mode.IsValid() {
		return ErrConfiguration(fmt.Sprintf("invalid mode: %s", c.Mode)).WithMetadata("field", "mode")
	}
	return nil
}
