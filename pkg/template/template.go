// Package template generates starter agent configuration files.
package template

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

// TemplateType represents the type of template to generate
type TemplateType string

const (
	TypeMinimal    TemplateType = "minimal"
	TypeSimple     TemplateType = "simple"
	TypeDurable    TemplateType = "durable"
	TypeProduction TemplateType = "production"
	TypeProd       TemplateType = "prod"
	TypeOffline    TemplateType = "offline"
)

// Generator provides template generation functionality
type Generator struct{}

// NewGenerator creates a new template generator
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate returns the settings of a template as nested tables keyed the
// way the config file expects. name becomes the queue namespace.
func (g *Generator) Generate(templateType TemplateType, name string) (map[string]any, error) {
	if name == "" {
		name = "logship"
	}
	switch templateType {
	case TypeMinimal, TypeSimple:
		return g.minimal(name), nil
	case TypeDurable:
		return g.durable(name), nil
	case TypeProduction, TypeProd:
		return g.production(name), nil
	case TypeOffline:
		return g.offline(name), nil
	default:
		return nil, fmt.Errorf("unknown template type: %s (supported: minimal, durable, production, offline)", templateType)
	}
}

// GenerateTOML renders a template as a TOML config file.
func (g *Generator) GenerateTOML(templateType TemplateType, name string) ([]byte, error) {
	doc, err := g.Generate(templateType, name)
	if err != nil {
		return nil, err
	}
	b, err := toml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template: %w", err)
	}
	return b, nil
}

// GetSupportedTypes returns a list of all supported template types
func (g *Generator) GetSupportedTypes() []string {
	return []string{
		string(TypeMinimal),
		string(TypeDurable),
		string(TypeProduction),
		string(TypeOffline),
	}
}

// Durations are written as strings; bare integers would be read back as
// milliseconds.

func (g *Generator) minimal(name string) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"url":       "http://localhost:8080/",
			"retryRate": "2s",
		},
		"localStorage": map[string]any{
			"dsn":       "memory://",
			"namespace": name,
		},
	}
}

func (g *Generator) durable(name string) map[string]any {
	doc := g.minimal(name)
	doc["localStorage"] = map[string]any{
		"dsn":           "sqlite:///var/lib/logship/" + name + "-queue.db",
		"namespace":     name,
		"max":           5000,
		"saveOnFailure": true,
	}
	doc["log"] = map[string]any{
		"level":  "info",
		"format": "text",
		"file": map[string]any{
			"path":        "/var/log/logship/" + name + ".log",
			"max_size_mb": 50,
			"max_backups": 5,
		},
	}
	return doc
}

func (g *Generator) production(name string) map[string]any {
	doc := g.durable(name)
	doc["console"] = map[string]any{
		"handleNames": []string{"log", "info", "warn", "error"},
		"output":      true,
	}
	doc["error"] = map[string]any{
		"catchErrors":              true,
		"catchUnhandledRejections": true,
	}
	doc["server"] = map[string]any{
		"url":       "https://collector.internal:8443/ingest",
		"retryRate": "5s",
		"timeout":   "3s",
		"rateLimit": 200,
		"rateBurst": 50,
		"headers": map[string]any{
			"Authorization": "Bearer CHANGE-ME",
			"X-Source":      name,
		},
		"breaker": map[string]any{
			"enabled":             true,
			"consecutiveFailures": 5,
			"openTimeout":         "30s",
		},
	}
	doc["log"].(map[string]any)["format"] = "json"
	doc["metrics"] = map[string]any{"listen": ":9090"}
	return doc
}

func (g *Generator) offline(name string) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"send": false,
		},
		"memory": map[string]any{
			"capture": true,
			"max":     10000,
		},
		"element": map[string]any{
			"output": true,
			"path":   "/var/log/logship/" + name + "-display.log",
		},
		"localStorage": map[string]any{
			"namespace": name,
		},
	}
}
