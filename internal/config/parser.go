package config

import (
	"log"
	"strings"
	"sync"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Option describes one documented configuration option as it was read.
type Option struct {
	Key     string
	Default any
	Doc     string
}

// Parser reads documented options from one section of the configuration.
// Every read registers the option so a commented default file can be rendered.
type Parser interface {
	ExpectString(key, def, doc string) string
	ExpectBool(key string, def bool, doc string) bool
	// Enter returns a parser scoped to a nested section.
	Enter(key, doc string) Parser
}

type registry struct {
	mu       sync.Mutex
	options  []Option
	seen     map[string]int
	sections map[string]string
}

func (r *registry) record(opt Option) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.seen[opt.Key]; ok {
		r.options[i] = opt
		return
	}
	r.seen[opt.Key] = len(r.options)
	r.options = append(r.options, opt)
}

func (r *registry) section(key, doc string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if doc != "" {
		r.sections[key] = doc
	}
}

// ViperParser is a Parser backed by a viper instance.
type ViperParser struct {
	v      *viper.Viper
	prefix string
	reg    *registry
}

// NewViperParser creates a root parser over v.
func NewViperParser(v *viper.Viper) *ViperParser {
	return &ViperParser{
		v: v,
		reg: &registry{
			seen:     make(map[string]int),
			sections: make(map[string]string),
		},
	}
}

func (p *ViperParser) key(k string) string {
	if p.prefix == "" {
		return k
	}
	return p.prefix + "." + k
}

// ExpectString returns the string at key or def when unset. Non-scalar values
// are rejected with a warning and def is used instead.
func (p *ViperParser) ExpectString(key, def, doc string) string {
	full := p.key(key)
	p.reg.record(Option{Key: full, Default: def, Doc: doc})

	raw := p.v.Get(full)
	if raw == nil {
		return def
	}
	s, err := cast.ToStringE(raw)
	if err != nil {
		log.Printf("config: %s should be a string, using default %q", full, def)
		return def
	}
	return s
}

// ExpectBool returns the bool at key or def when unset or not a bool.
func (p *ViperParser) ExpectBool(key string, def bool, doc string) bool {
	full := p.key(key)
	p.reg.record(Option{Key: full, Default: def, Doc: doc})

	raw := p.v.Get(full)
	if raw == nil {
		return def
	}
	b, err := cast.ToBoolE(raw)
	if err != nil {
		log.Printf("config: %s should be a bool, using default %t", full, def)
		return def
	}
	return b
}

// Enter returns a parser for the nested section key.
func (p *ViperParser) Enter(key, doc string) Parser {
	full := p.key(key)
	p.reg.section(full, doc)
	return &ViperParser{v: p.v, prefix: full, reg: p.reg}
}

// Options returns every option read so far, in first-read order.
func (p *ViperParser) Options() []Option {
	p.reg.mu.Lock()
	defer p.reg.mu.Unlock()
	out := make([]Option, len(p.reg.options))
	copy(out, p.reg.options)
	return out
}

// SectionDocs returns the documentation attached to entered sections.
func (p *ViperParser) SectionDocs() map[string]string {
	p.reg.mu.Lock()
	defer p.reg.mu.Unlock()
	out := make(map[string]string, len(p.reg.sections))
	for k, v := range p.reg.sections {
		out[k] = v
	}
	return out
}

// Render writes every option read so far as a commented YAML document.
func (p *ViperParser) Render(extra ...Option) ([]byte, error) {
	opts := append(append([]Option{}, extra...), p.Options()...)
	return Render(opts, p.SectionDocs())
}

func normalizeDoc(doc string) string {
	lines := strings.Split(strings.TrimSpace(doc), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n")
}
