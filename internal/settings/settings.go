// Package settings holds user configuration: the backend mode, the API key,
// the specialty template, and the note sections to include.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jwulff/clinote/internal/note"
)

// BlobName is the name of the persisted settings blob.
const BlobName = "clinoteSettings"

// BackendMode selects where transcription and summarization run.
type BackendMode string

const (
	Local BackendMode = "local"
	Cloud BackendMode = "cloud"
)

// Specialty selects the extraction template used for summaries.
type Specialty string

const (
	PrimaryCare       Specialty = "primary-care"
	Psychiatry        Specialty = "psychiatry"
	Cardiology        Specialty = "cardiology"
	Dermatology       Specialty = "dermatology"
	Pediatrics        Specialty = "pediatrics"
	Orthopedics       Specialty = "orthopedics"
	Neurology         Specialty = "neurology"
	EmergencyMedicine Specialty = "emergency-medicine"
)

// Specialties lists every known specialty in display order.
var Specialties = []Specialty{
	PrimaryCare, Psychiatry, Cardiology, Dermatology,
	Pediatrics, Orthopedics, Neurology, EmergencyMedicine,
}

// Normalize maps unknown specialties to primary care.
func (s Specialty) Normalize() Specialty {
	for _, k := range Specialties {
		if s == k {
			return s
		}
	}
	return PrimaryCare
}

// Settings is the full configuration.
type Settings struct {
	BackendMode     BackendMode     `json:"backendMode"`
	APIKey          string          `json:"apiKey,omitempty"`
	Specialty       Specialty       `json:"specialty"`
	AutoInsert      bool            `json:"autoInsert"`
	SaveTranscripts bool            `json:"saveTranscripts"`
	PrivacyConsent  bool            `json:"privacyConsent"`
	IncludeSections map[string]bool `json:"includeSections,omitempty"`
}

// Default returns the settings used before the user changes anything.
func Default() Settings {
	include := make(map[string]bool, len(note.Sections))
	for _, s := range note.Sections {
		include[s.Key] = true
	}
	return Settings{
		BackendMode:     Local,
		Specialty:       PrimaryCare,
		AutoInsert:      true,
		IncludeSections: include,
	}
}

// Cloud reports whether the cloud backend is selected.
func (s Settings) Cloud() bool { return s.BackendMode == Cloud }

// Clone returns a copy that shares no map with s.
func (s Settings) Clone() Settings {
	if s.IncludeSections != nil {
		m := make(map[string]bool, len(s.IncludeSections))
		for k, v := range s.IncludeSections {
			m[k] = v
		}
		s.IncludeSections = m
	}
	return s
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	BackendMode     *BackendMode    `json:"backendMode,omitempty"`
	APIKey          *string         `json:"apiKey,omitempty"`
	Specialty       *Specialty      `json:"specialty,omitempty"`
	AutoInsert      *bool           `json:"autoInsert,omitempty"`
	SaveTranscripts *bool           `json:"saveTranscripts,omitempty"`
	PrivacyConsent  *bool           `json:"privacyConsent,omitempty"`
	IncludeSections map[string]bool `json:"includeSections,omitempty"`
}

// Apply merges p over s, last write wins. IncludeSections replaces the whole
// map, matching a shallow merge of the stored blob.
func (p Patch) Apply(s Settings) (Settings, error) {
	s = s.Clone()
	if p.BackendMode != nil {
		switch *p.BackendMode {
		case Local, Cloud:
			s.BackendMode = *p.BackendMode
		default:
			return s, fmt.Errorf("unknown backend mode %q", *p.BackendMode)
		}
	}
	if p.APIKey != nil {
		s.APIKey = *p.APIKey
	}
	if p.Specialty != nil {
		s.Specialty = p.Specialty.Normalize()
	}
	if p.AutoInsert != nil {
		s.AutoInsert = *p.AutoInsert
	}
	if p.SaveTranscripts != nil {
		s.SaveTranscripts = *p.SaveTranscripts
	}
	if p.PrivacyConsent != nil {
		s.PrivacyConsent = *p.PrivacyConsent
	}
	if p.IncludeSections != nil {
		s.IncludeSections = make(map[string]bool, len(p.IncludeSections))
		for k, v := range p.IncludeSections {
			s.IncludeSections[k] = v
		}
	}
	return s, nil
}

// Store reads and updates the settings.
type Store interface {
	Get(ctx context.Context) (Settings, error)
	Update(ctx context.Context, p Patch) (Settings, error)
}

// MemoryStore keeps settings in memory.
type MemoryStore struct {
	mu sync.Mutex
	s  Settings
}

// NewMemoryStore returns a store holding s.
func NewMemoryStore(s Settings) *MemoryStore {
	return &MemoryStore{s: s.Clone()}
}

func (m *MemoryStore) Get(context.Context) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, p Patch) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := p.Apply(m.s)
	if err != nil {
		return m.s.Clone(), err
	}
	m.s = next
	return next.Clone(), nil
}

// Blobs persists named JSON documents.
type Blobs interface {
	LoadBlob(ctx context.Context, name string) ([]byte, bool, error)
	SaveBlob(ctx context.Context, name string, data []byte) error
}

// BlobStore persists settings as a single named blob. Missing keys in the
// stored blob take their default values.
type BlobStore struct {
	blobs Blobs
	mu    sync.Mutex
}

// NewBlobStore returns a store backed by blobs.
func NewBlobStore(blobs Blobs) *BlobStore {
	return &BlobStore{blobs: blobs}
}

func (b *BlobStore) Get(ctx context.Context) (Settings, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.load(ctx)
}

func (b *BlobStore) Update(ctx context.Context, p Patch) (Settings, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur, err := b.load(ctx)
	if err != nil {
		return Settings{}, err
	}
	next, err := p.Apply(cur)
	if err != nil {
		return cur, err
	}
	data, err := json.Marshal(next)
	if err != nil {
		return cur, fmt.Errorf("encode settings: %w", err)
	}
	if err := b.blobs.SaveBlob(ctx, BlobName, data); err != nil {
		return cur, fmt.Errorf("save settings: %w", err)
	}
	return next, nil
}

func (b *BlobStore) load(ctx context.Context) (Settings, error) {
	data, ok, err := b.blobs.LoadBlob(ctx, BlobName)
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	s := Default()
	if !ok {
		return s, nil
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	s.Specialty = s.Specialty.Normalize()
	return s, nil
}

// Cache fetches settings once and reuses them until invalidated.
type Cache struct {
	get func(context.Context) (Settings, error)

	mu    sync.Mutex
	value Settings
	valid bool
}

// NewCache returns a cache over get.
func NewCache(get func(context.Context) (Settings, error)) *Cache {
	return &Cache{get: get}
}

// Get returns the cached settings, fetching them if needed. Errors are not
// cached.
func (c *Cache) Get(ctx context.Context) (Settings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid {
		return c.value.Clone(), nil
	}
	s, err := c.get(ctx)
	if err != nil {
		return Settings{}, err
	}
	c.value, c.valid = s, true
	return s.Clone(), nil
}

// Invalidate drops the cached value.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}
