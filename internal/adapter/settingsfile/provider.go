// Package settingsfile persists the operator configuration as a YAML or
// TOML document on local disk.
package settingsfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/roushou/adpilot/internal/domain/settings"
)

type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFor picks the encoding from the file extension; YAML is the default.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML
	default:
		return FormatYAML
	}
}

type Provider struct {
	path   string
	format Format
	mu     sync.Mutex
}

var _ settings.Provider = (*Provider)(nil)

func NewProvider(path string) *Provider {
	return &Provider{path: path, format: FormatFor(path)}
}

func (p *Provider) Path() string {
	return p.path
}

// Load returns an empty configuration when the file does not exist yet.
func (p *Provider) Load(ctx context.Context) (settings.Configuration, error) {
	if err := ctx.Err(); err != nil {
		return settings.Configuration{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return settings.New(nil)
	}
	if err != nil {
		return settings.Configuration{}, fmt.Errorf("read settings %s: %w", p.path, err)
	}

	values := map[string]any{}
	if len(bytes.TrimSpace(data)) > 0 {
		switch p.format {
		case FormatTOML:
			if _, err := toml.Decode(string(data), &values); err != nil {
				return settings.Configuration{}, fmt.Errorf("decode settings %s: %w", p.path, err)
			}
		default:
			if err := yaml.Unmarshal(data, &values); err != nil {
				return settings.Configuration{}, fmt.Errorf("decode settings %s: %w", p.path, err)
			}
		}
	}
	return settings.New(values)
}

// Save replaces the file atomically. The directory is created 0700 and the
// file written 0600.
func (p *Provider) Save(ctx context.Context, cfg settings.Configuration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var buf bytes.Buffer
	switch p.format {
	case FormatTOML:
		if err := toml.NewEncoder(&buf).Encode(cfg.Map()); err != nil {
			return fmt.Errorf("encode settings: %w", err)
		}
	default:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(cfg.Map()); err != nil {
			return fmt.Errorf("encode settings: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("encode settings: %w", err)
		}
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close settings: %w", err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

func (p *Provider) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := os.Remove(p.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear settings: %w", err)
	}
	return nil
}
