package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CodeFormat names the serialization scheme of an embedded class object.
type CodeFormat string

const (
	// FormatGob is a base64 gob stream holding an interface value whose
	// concrete type is registered with gob.Register.
	FormatGob CodeFormat = "GOB_BASE64"
	// FormatShell is base64 shell source. The script body is the function.
	FormatShell CodeFormat = "SHELL_BASE64"
)

// UDFConfig is the resolution configuration of one user function.
type UDFConfig struct {
	Paths           []string   `json:"paths,omitempty"`
	ClassName       string     `json:"className,omitempty"`
	ClassObject     string     `json:"classObject,omitempty"`
	ClassObjectType CodeFormat `json:"classObjectType,omitempty"`

	// WrapCallable controls whether a bare callable is exposed through an
	// Eval method. It is set by the invocation adapter, not the payload.
	WrapCallable bool `json:"-"`
}

// ParseUDFConfig decodes a configuration payload. WrapCallable defaults to true.
func ParseUDFConfig(data []byte) (UDFConfig, error) {
	cfg := UDFConfig{WrapCallable: true}
	if strings.TrimSpace(string(data)) == "" {
		return cfg, ConfigurationError("empty configuration")
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, newError(ErrConfiguration, err, "invalid configuration")
	}
	cfg.WrapCallable = true
	return cfg, nil
}

// Strategy is how a configuration identifies its function.
type Strategy interface {
	strategy()
	String() string
}

// ByName resolves a fully qualified name against loaded code.
type ByName struct {
	Name string
}

// BySerializedCode decodes an embedded closure.
type BySerializedCode struct {
	Code   string
	Format CodeFormat
}

func (ByName) strategy()           {}
func (BySerializedCode) strategy() {}

func (s ByName) String() string { return "name" }

func (s BySerializedCode) String() string { return "serialized" }

// Strategy selects how c is resolved. When both a name and a class object
// are given the name wins.
func (c UDFConfig) Strategy() (Strategy, error) {
	switch {
	case c.ClassName != "":
		return ByName{Name: c.ClassName}, nil
	case c.ClassObject != "":
		return BySerializedCode{Code: c.ClassObject, Format: c.ClassObjectType}, nil
	}
	return nil, ErrMissingDefinition
}

func (c UDFConfig) String() string {
	switch {
	case c.ClassName != "":
		return fmt.Sprintf("className=%s paths=%v", c.ClassName, c.Paths)
	case c.ClassObject != "":
		return fmt.Sprintf("classObjectType=%s classObject=<%d bytes> paths=%v", c.ClassObjectType, len(c.ClassObject), c.Paths)
	}
	return fmt.Sprintf("paths=%v", c.Paths)
}
