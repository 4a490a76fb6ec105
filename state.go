package weft

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/weftline/weft-go/buffer"
	"github.com/weftline/weft-go/cache"
	"github.com/weftline/weft-go/internal/diag"
	"github.com/weftline/weft-go/internal/metrics"
	"github.com/weftline/weft-go/internal/transport"
	"github.com/weftline/weft-go/spanref"
)

const (
	loginPath              = "/v1/login"
	registerExperimentPath = "/v1/experiments/register"
	registerProjectPath    = "/v1/projects/register"
	promptsPath            = "/v1/prompts"
)

// ErrDisabled reports an operation on a state that was turned off.
var ErrDisabled = errors.New("state is disabled")

// ============================================================================
// Lifecycle
// ============================================================================

// Status tracks a State's login lifecycle.
type Status int32

const (
	StatusCreated Status = iota
	StatusLoggingIn
	StatusActive
	StatusDisabled
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusLoggingIn:
		return "logging_in"
	case StatusActive:
		return "active"
	case StatusDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// OrgInfo identifies the organization selected during login.
type OrgInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	APIURL string `json:"api_url"`
}

// ============================================================================
// Destinations
// ============================================================================

// Destination names where finished spans land. The zero value logs to
// the configured default project.
type Destination struct {
	Kind spanref.ObjectKind

	// Experiment destinations. A missing ExperimentID registers the
	// experiment by name on first use.
	ExperimentID string
	Experiment   string

	// Project log destinations. Project falls back to the configured
	// default when both identifiers are empty.
	ProjectID string
	Project   string

	// Playground destinations require an explicit session ID.
	PlaygroundID string
}

func (d Destination) normalize(cfg *Config) Destination {
	if d.Kind == spanref.KindUnknown {
		switch {
		case d.ExperimentID != "" || d.Experiment != "":
			d.Kind = spanref.KindExperiment
		case d.PlaygroundID != "":
			d.Kind = spanref.KindPlaygroundLogs
		default:
			d.Kind = spanref.KindProjectLogs
		}
	}
	if d.Project == "" && d.ProjectID == "" {
		d.Project = cfg.Project
	}
	return d
}

func (d Destination) cacheKey() string {
	return fmt.Sprintf("%d|%s|%s|%s|%s|%s",
		d.Kind, d.ExperimentID, d.Experiment, d.ProjectID, d.Project, d.PlaygroundID)
}

type destEntry struct {
	once   sync.Once
	fields map[string]string
	err    error
}

// ============================================================================
// State
// ============================================================================

// State owns the process-wide SDK machinery: configuration, transport,
// the record sink, the span buffer, the prompt cache, and the login
// lifecycle. Most programs use the package-level default; tests and
// multi-tenant processes construct their own.
type State struct {
	cfg *Config
	log *zap.Logger
	met *metrics.Metrics

	tr       Transport
	switcher *switchTransport
	mkTr     func(baseURL string) Transport

	sink    RecordSink
	ownSink bool
	buf     *buffer.SpanBuffer
	prompts *cache.Ref[*Prompt]

	status atomic.Int32

	loginMu sync.Mutex
	org     OrgInfo

	destMu sync.Mutex
	dests  map[string]*destEntry
}

type stateOptions struct {
	cfg  *Config
	tr   Transport
	sink RecordSink
	log  *zap.Logger
	buf  *buffer.SpanBuffer
	reg  prometheus.Registerer
}

// StateOption customizes NewState.
type StateOption func(*stateOptions)

// WithConfig supplies configuration instead of loading it from the
// environment and config file.
func WithConfig(cfg *Config) StateOption {
	return func(o *stateOptions) { o.cfg = cfg }
}

// WithTransport substitutes the API transport.
func WithTransport(tr Transport) StateOption {
	return func(o *stateOptions) { o.tr = tr }
}

// WithSink substitutes the record sink, e.g. a MemoryLogger in tests.
func WithSink(sink RecordSink) StateOption {
	return func(o *stateOptions) { o.sink = sink }
}

// WithLogger substitutes the diagnostic logger.
func WithLogger(log *zap.Logger) StateOption {
	return func(o *stateOptions) { o.log = log }
}

// WithSpanBuffer substitutes the disk-backed span buffer.
func WithSpanBuffer(buf *buffer.SpanBuffer) StateOption {
	return func(o *stateOptions) { o.buf = buf }
}

// WithMetricsRegisterer registers SDK metrics with reg instead of a
// private registry.
func WithMetricsRegisterer(reg prometheus.Registerer) StateOption {
	return func(o *stateOptions) { o.reg = reg }
}

// NewState assembles a State. Without options it loads configuration
// from the environment, builds the production transport, and starts a
// background logger.
func NewState(opts ...StateOption) (*State, error) {
	var o stateOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg := o.cfg
	if cfg == nil {
		loaded, err := LoadConfig()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	log := o.log
	if log == nil {
		log = diag.New(cfg.Debug)
	}
	met := metrics.New(o.reg)

	s := &State{
		cfg:   cfg,
		log:   log,
		met:   met,
		dests: make(map[string]*destEntry),
	}
	s.mkTr = func(baseURL string) Transport {
		return transport.New(transport.Config{
			BaseURL:   baseURL,
			APIKey:    cfg.APIKey,
			UserAgent: userAgent(),
			Logger:    log,
		})
	}

	s.tr = o.tr
	if s.tr == nil {
		s.switcher = &switchTransport{tr: s.mkTr(cfg.APIURL)}
		s.tr = s.switcher
	}

	s.sink = o.sink
	if s.sink == nil {
		s.sink = NewBackgroundLogger(s.tr, cfg, log, met)
		s.ownSink = true
	}

	s.buf = o.buf
	if s.buf == nil {
		s.buf = buffer.New(buffer.WithLogger(log), buffer.WithObserver(met.AddBufferWrite))
	}

	s.prompts = cache.NewRef(
		cache.NewLRU[string, *Prompt](cfg.PromptCacheMemory),
		cache.NewDisk[*Prompt](cfg.CacheDir, cfg.PromptCacheDisk, log),
		log,
		cache.WithObserver[*Prompt](met.ObserveCache),
	)

	s.status.Store(int32(StatusCreated))
	return s, nil
}

// Status reports where the state is in its login lifecycle.
func (s *State) Status() Status {
	return Status(s.status.Load())
}

// Config returns the state's configuration.
func (s *State) Config() *Config {
	return s.cfg
}

// Org returns the organization selected at login, zero before login.
func (s *State) Org() OrgInfo {
	s.loginMu.Lock()
	defer s.loginMu.Unlock()
	return s.org
}

// Login authenticates against the API and selects an organization.
// Concurrent calls coalesce on one attempt; once active, later calls
// return immediately. A failed attempt leaves the state ready to retry.
func (s *State) Login(ctx context.Context) error {
	if s.Status() == StatusActive {
		return nil
	}

	s.loginMu.Lock()
	defer s.loginMu.Unlock()

	switch s.Status() {
	case StatusActive:
		return nil
	case StatusDisabled:
		return fmt.Errorf("login: %w", ErrDisabled)
	}
	if s.cfg.APIKey == "" {
		return errors.New("login: api key not configured, set WEFT_API_KEY")
	}

	s.status.Store(int32(StatusLoggingIn))
	org, err := s.login(ctx)
	if err != nil {
		s.status.Store(int32(StatusCreated))
		return err
	}
	s.org = org

	if s.switcher != nil && org.APIURL != "" && org.APIURL != s.cfg.APIURL {
		s.switcher.swap(s.mkTr(org.APIURL))
		s.log.Debug("switched to org api", zap.String("url", org.APIURL))
	}

	s.status.Store(int32(StatusActive))
	s.log.Debug("login complete",
		zap.String("org_id", org.ID),
		zap.String("org_name", org.Name))
	return nil
}

func (s *State) login(ctx context.Context) (OrgInfo, error) {
	raw, err := s.tr.Post(ctx, loginPath, []byte(`{}`))
	if err != nil {
		return OrgInfo{}, fmt.Errorf("login: %w", err)
	}

	var resp struct {
		OrgInfo []OrgInfo `json:"org_info"`
	}
	if err := sonic.Unmarshal(raw, &resp); err != nil {
		return OrgInfo{}, fmt.Errorf("decode login response: %w", err)
	}
	if len(resp.OrgInfo) == 0 {
		return OrgInfo{}, errors.New("login returned no organizations")
	}
	if s.cfg.OrgName == "" {
		return resp.OrgInfo[0], nil
	}
	for _, org := range resp.OrgInfo {
		if org.Name == s.cfg.OrgName {
			return org, nil
		}
	}
	return OrgInfo{}, fmt.Errorf("organization %q not in login response", s.cfg.OrgName)
}

// ensureLogin performs a lazy login so spans can start before Login is
// called explicitly.
func (s *State) ensureLogin(ctx context.Context) error {
	if s.Status() == StatusActive {
		return nil
	}
	return s.Login(ctx)
}

// Flush delivers every finished record enqueued so far.
func (s *State) Flush(ctx context.Context) error {
	return s.sink.Flush(ctx)
}

// Disable drops queued records, future records, and the on-disk span
// buffer. A disabled state stays disabled.
func (s *State) Disable() {
	s.status.Store(int32(StatusDisabled))
	s.sink.Disable()
	s.buf.Disable()
}

// Close flushes outstanding records and releases the span buffer.
func (s *State) Close(ctx context.Context) error {
	var err error
	if bl, ok := s.sink.(*BackgroundLogger); ok && s.ownSink {
		err = bl.Close(ctx)
	} else {
		err = s.sink.Flush(ctx)
	}
	s.buf.Dispose()
	return err
}

// ============================================================================
// Destination resolution
// ============================================================================

// resolveDestination turns a destination into the object fields stamped
// onto records, registering experiments and projects on first use.
// Results are cached for the process lifetime; failures are left for
// the next caller to retry.
func (s *State) resolveDestination(ctx context.Context, d Destination) (map[string]string, error) {
	d = d.normalize(s.cfg)
	key := d.cacheKey()

	s.destMu.Lock()
	e, ok := s.dests[key]
	if !ok {
		e = &destEntry{}
		s.dests[key] = e
	}
	s.destMu.Unlock()

	e.once.Do(func() { e.fields, e.err = s.resolveOnce(ctx, d) })
	if e.err != nil {
		s.destMu.Lock()
		if s.dests[key] == e {
			delete(s.dests, key)
		}
		s.destMu.Unlock()
		return nil, e.err
	}
	return e.fields, nil
}

func (s *State) resolveOnce(ctx context.Context, d Destination) (map[string]string, error) {
	if err := s.ensureLogin(ctx); err != nil {
		return nil, err
	}

	var objectID string
	switch d.Kind {
	case spanref.KindExperiment:
		id, err := s.registerExperiment(ctx, d)
		if err != nil {
			return nil, err
		}
		objectID = id
	case spanref.KindProjectLogs:
		id, err := s.registerProject(ctx, d)
		if err != nil {
			return nil, err
		}
		objectID = id
	case spanref.KindPlaygroundLogs:
		if d.PlaygroundID == "" {
			return nil, errors.New("playground destination requires an explicit id")
		}
		objectID = d.PlaygroundID
	default:
		return nil, fmt.Errorf("unsupported destination kind %v", d.Kind)
	}

	ref := spanref.Ref{Kind: d.Kind, ObjectID: objectID}
	return ref.ObjectFields()
}

func (s *State) registerExperiment(ctx context.Context, d Destination) (string, error) {
	if d.ExperimentID != "" {
		return d.ExperimentID, nil
	}

	req := map[string]string{}
	if d.Experiment != "" {
		req["experiment_name"] = d.Experiment
	}
	if d.Project != "" {
		req["project_name"] = d.Project
	}
	if d.ProjectID != "" {
		req["project_id"] = d.ProjectID
	}
	if org := s.Org(); org.ID != "" {
		req["org_id"] = org.ID
	}

	body, err := sonic.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode experiment registration: %w", err)
	}
	raw, err := s.tr.Post(ctx, registerExperimentPath, body)
	if err != nil {
		return "", fmt.Errorf("register experiment: %w", err)
	}

	var resp struct {
		ExperimentID string `json:"experiment_id"`
	}
	if err := sonic.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode experiment registration: %w", err)
	}
	if resp.ExperimentID == "" {
		return "", errors.New("experiment registration returned no id")
	}
	return resp.ExperimentID, nil
}

func (s *State) registerProject(ctx context.Context, d Destination) (string, error) {
	if d.ProjectID != "" {
		return d.ProjectID, nil
	}

	req := map[string]string{"project_name": d.Project}
	if org := s.Org(); org.ID != "" {
		req["org_id"] = org.ID
	}

	body, err := sonic.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode project registration: %w", err)
	}
	raw, err := s.tr.Post(ctx, registerProjectPath, body)
	if err != nil {
		return "", fmt.Errorf("register project: %w", err)
	}

	var resp struct {
		ProjectID string `json:"project_id"`
	}
	if err := sonic.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode project registration: %w", err)
	}
	if resp.ProjectID == "" {
		return "", errors.New("project registration returned no id")
	}
	return resp.ProjectID, nil
}

// ============================================================================
// Prompts
// ============================================================================

// Prompt is a versioned prompt fetched from the registry.
type Prompt struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id"`
	Name      string         `json:"name"`
	Slug      string         `json:"slug"`
	Version   string         `json:"version"`
	Data      map[string]any `json:"prompt_data"`
}

// PromptOpts selects a prompt by ID or by project plus slug.
type PromptOpts struct {
	ID        string
	Project   string
	ProjectID string
	Slug      string
	Version   string

	// NoCache bypasses both cache layers on read. The fetched prompt
	// is still written back through them.
	NoCache bool
}

// LoadPrompt fetches a prompt, preferring the in-memory and on-disk
// caches so previously seen prompts survive API outages and restarts.
func (s *State) LoadPrompt(ctx context.Context, opts PromptOpts) (*Prompt, error) {
	project := opts.ProjectID
	if project == "" {
		project = opts.Project
	}
	key, err := cache.Key(opts.ID, project, opts.Slug)
	if err != nil {
		return nil, err
	}
	if opts.Version != "" {
		key += "@" + opts.Version
	}

	if !opts.NoCache {
		if p, ok := s.prompts.Get(ctx, key); ok {
			return p, nil
		}
	}

	if err := s.ensureLogin(ctx); err != nil {
		return nil, err
	}

	query := map[string]string{}
	if opts.ID != "" {
		query["id"] = opts.ID
	}
	if opts.ProjectID != "" {
		query["project_id"] = opts.ProjectID
	}
	if opts.Project != "" {
		query["project_name"] = opts.Project
	}
	if opts.Slug != "" {
		query["slug"] = opts.Slug
	}
	if opts.Version != "" {
		query["version"] = opts.Version
	}

	raw, err := s.tr.Get(ctx, promptsPath, query)
	if err != nil {
		return nil, fmt.Errorf("load prompt: %w", err)
	}

	var resp struct {
		Objects []*Prompt `json:"objects"`
	}
	if err := sonic.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode prompt response: %w", err)
	}
	if len(resp.Objects) == 0 || resp.Objects[0] == nil {
		return nil, errors.New("prompt not found")
	}
	p := resp.Objects[0]

	s.prompts.Set(ctx, key, p)
	return p, nil
}

// ============================================================================
// Transport switching
// ============================================================================

// switchTransport lets login redirect traffic to an org-specific API
// URL without rebuilding the sink that holds the transport.
type switchTransport struct {
	mu sync.RWMutex
	tr Transport
}

func (s *switchTransport) current() Transport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tr
}

func (s *switchTransport) swap(tr Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tr = tr
}

func (s *switchTransport) Post(ctx context.Context, path string, body []byte) ([]byte, error) {
	return s.current().Post(ctx, path, body)
}

func (s *switchTransport) Get(ctx context.Context, path string, query map[string]string) ([]byte, error) {
	return s.current().Get(ctx, path, query)
}
