package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// scheduleParser accepts the same specs the scheduler does.
var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Manager owns a JSON config file on disk. The schedule daemon watches it so
// cron entries can be edited without a restart.
type Manager struct {
	path     string
	debounce time.Duration
	log      zerolog.Logger

	mu       sync.RWMutex
	cfg      Config
	onChange func(Config)
	watching bool
}

type managerOptions struct {
	configPath    string
	initialConfig *Config
	debounce      time.Duration
	logger        *zerolog.Logger
}

type ManagerOption func(*managerOptions)

// NewManager loads the config file, creating it from defaults rooted at its
// directory when it does not exist yet.
func NewManager(opts ...ManagerOption) (*Manager, error) {
	options := managerOptions{debounce: 300 * time.Millisecond}
	for _, opt := range opts {
		opt(&options)
	}

	path := options.configPath
	if path == "" {
		var err error
		if path, err = defaultConfigPath(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	cfg, err := loadOrInit(path, options.initialConfig)
	if err != nil {
		return nil, err
	}

	log := zerolog.Nop()
	if options.logger != nil {
		log = *options.logger
	}
	return &Manager{
		path:     path,
		cfg:      cfg,
		debounce: options.debounce,
		log:      log.With().Str("component", "config").Logger(),
	}, nil
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Path() string {
	return m.path
}

// Update validates cfg, writes it to disk and applies it. An identical config
// is a no-op.
func (m *Manager) Update(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if reflect.DeepEqual(m.Get(), cfg) {
		return nil
	}
	if err := saveConfigFile(m.path, cfg); err != nil {
		return err
	}
	m.apply(cfg)
	return nil
}

// SetSchedule stores a cron spec for a pipeline, rejecting specs the
// scheduler could not parse.
func (m *Manager) SetSchedule(tool, spec string) error {
	if tool == "" {
		return errors.New("schedule tool is required")
	}
	if _, err := scheduleParser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %s: %w", tool, err)
	}
	cfg := m.Get()
	cfg.Schedules = copySchedules(cfg.Schedules)
	cfg.Schedules[tool] = spec
	return m.Update(cfg)
}

// RemoveSchedule drops the schedule of tool. Removing a missing entry is not
// an error.
func (m *Manager) RemoveSchedule(tool string) error {
	cfg := m.Get()
	if _, ok := cfg.Schedules[tool]; !ok {
		return nil
	}
	cfg.Schedules = copySchedules(cfg.Schedules)
	delete(cfg.Schedules, tool)
	return m.Update(cfg)
}

func copySchedules(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Watch reloads the file on external edits and calls onChange with the new
// config until ctx is done. Writes that leave the config unchanged, including
// our own, do not call onChange.
func (m *Manager) Watch(ctx context.Context, onChange func(Config)) error {
	m.mu.Lock()
	m.onChange = onChange
	if m.watching {
		m.mu.Unlock()
		return nil
	}
	m.watching = true
	m.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// editors replace the file, so watch the directory
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}

	go m.watch(ctx, watcher)
	return nil
}

func (m *Manager) watch(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	timer := time.NewTimer(m.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case evt, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != filepath.Clean(m.path) {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(m.debounce)
		case <-timer.C:
			m.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.log.Warn().Err(err).Msg("config watcher error")
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) reload() {
	var cfg Config
	if err := readConfigFile(m.path, &cfg); err != nil {
		// a rename in progress leaves the path missing for a moment
		if !errors.Is(err, os.ErrNotExist) {
			m.log.Error().Err(err).Str("path", m.path).Msg("config reload failed")
		}
		return
	}
	if err := cfg.Validate(); err != nil {
		m.log.Error().Err(err).Msg("reloaded config rejected, keeping previous")
		return
	}
	if reflect.DeepEqual(m.Get(), cfg) {
		return
	}
	m.log.Info().Str("path", m.path).Int("schedules", len(cfg.Schedules)).Msg("config reloaded")
	m.apply(cfg)
}

func (m *Manager) apply(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg
	cb := m.onChange
	m.mu.Unlock()

	if cb != nil {
		cb(cfg)
	}
}

func loadOrInit(path string, initial *Config) (Config, error) {
	var cfg Config
	err := readConfigFile(path, &cfg)
	switch {
	case err == nil:
		if err := cfg.Validate(); err != nil {
			return Config{}, err
		}
		return cfg, nil
	case !errors.Is(err, os.ErrNotExist):
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	if initial != nil {
		cfg = *initial
	} else {
		cfg = *DefaultConfigWithRoot(filepath.Dir(path))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if err := saveConfigFile(path, cfg); err != nil {
		return Config{}, fmt.Errorf("write initial config: %w", err)
	}
	return cfg, nil
}

// readConfigFile starts from the defaults so fields missing from older files
// keep sane values.
func readConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	*cfg = *DefaultConfigWithRoot(filepath.Dir(path))
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func defaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		if dir, err = os.Getwd(); err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, "AurumGo", "config.json"), nil
}

func saveConfigFile(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "cfg-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp config: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func WithConfigDir(dir string) ManagerOption {
	return func(o *managerOptions) {
		if dir != "" {
			o.configPath = filepath.Join(dir, "config.json")
		}
	}
}

func WithConfigPath(path string) ManagerOption {
	return func(o *managerOptions) {
		if path != "" {
			o.configPath = path
		}
	}
}

func WithDebounce(d time.Duration) ManagerOption {
	return func(o *managerOptions) {
		if d > 0 {
			o.debounce = d
		}
	}
}

func WithInitialConfig(cfg *Config) ManagerOption {
	return func(o *managerOptions) { o.initialConfig = cfg }
}

func WithLogger(l zerolog.Logger) ManagerOption {
	return func(o *managerOptions) { o.logger = &l }
}
