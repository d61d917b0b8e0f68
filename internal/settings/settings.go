// Package settings validates and stores the process-wide provider settings record.
// Every Load reads the backend again; callers never see a cached snapshot.
package settings

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tiger/discharge-followup/api/calls"
)

//go:embed settings.schema.json
var schemaJSON []byte

const schemaURL = "https://discharge-followup/settings.schema.json"

// ErrInvalid wraps payloads rejected by the settings schema.
var ErrInvalid = errors.New("invalid settings")

// Backend persists the single settings record.
type Backend interface {
	Settings(ctx context.Context) (calls.ProviderSettings, error)
	SaveSettings(ctx context.Context, settings calls.ProviderSettings) error
}

type Service struct {
	backend Backend
	schema  *jsonschema.Schema
	now     func() time.Time

	// writeMu serializes read-merge-write so concurrent patches do not drop fields.
	writeMu sync.Mutex
}

func New(backend Backend) (*Service, error) {
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	return &Service{backend: backend, schema: schema, now: time.Now}, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// Load returns the current settings with the voice gender defaulted.
func (s *Service) Load(ctx context.Context) (calls.ProviderSettings, error) {
	out, err := s.backend.Settings(ctx)
	if err != nil {
		return calls.ProviderSettings{}, err
	}
	out.VoiceGender = out.Gender()
	return out, nil
}

// Apply validates a JSON patch and merges the fields it carries onto the current
// settings. Absent fields keep their stored values.
func (s *Service) Apply(ctx context.Context, raw []byte) (calls.ProviderSettings, error) {
	if err := s.validate(raw); err != nil {
		return calls.ProviderSettings{}, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	current, err := s.Load(ctx)
	if err != nil {
		return calls.ProviderSettings{}, err
	}
	if err := json.Unmarshal(raw, &current); err != nil {
		return calls.ProviderSettings{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return s.save(ctx, current)
}

// Replace validates and stores a full settings value.
func (s *Service) Replace(ctx context.Context, settings calls.ProviderSettings) (calls.ProviderSettings, error) {
	settings.VoiceGender = settings.Gender()
	raw, err := json.Marshal(settings)
	if err != nil {
		return calls.ProviderSettings{}, err
	}
	if err := s.validate(raw); err != nil {
		return calls.ProviderSettings{}, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.save(ctx, settings)
}

func (s *Service) save(ctx context.Context, settings calls.ProviderSettings) (calls.ProviderSettings, error) {
	settings.VoiceGender = settings.Gender()
	settings.UpdatedAt = s.now().UTC()
	if err := s.backend.SaveSettings(ctx, settings); err != nil {
		return calls.ProviderSettings{}, err
	}
	return settings, nil
}

func (s *Service) validate(raw []byte) error {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := s.schema.Validate(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}
