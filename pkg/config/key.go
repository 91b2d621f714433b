package config

import "strings"

// EnvPrefix starts every environment variable that overrides configuration.
const EnvPrefix = "CARGO"

// ConfigKey is a dotted configuration key that also knows its environment
// variable spelling. Keys are built incrementally while walking the
// configuration tree:
//
//	key := NewConfigKey()
//	key.Push("profile")
//	key.Push("release")
//	key.Push("opt-level")
//	key.EnvKey() // CARGO_PROFILE_RELEASE_OPT_LEVEL
//	key.Pop()
type ConfigKey struct {
	parts []string
}

// NewConfigKey returns an empty key.
func NewConfigKey() *ConfigKey {
	return &ConfigKey{}
}

// ParseConfigKey splits a dotted key such as "build.target".
func ParseConfigKey(dotted string) *ConfigKey {
	k := NewConfigKey()
	for _, part := range strings.Split(dotted, ".") {
		if part != "" {
			k.Push(part)
		}
	}
	return k
}

// Push appends a part.
func (k *ConfigKey) Push(part string) {
	k.parts = append(k.parts, part)
}

// Pop removes the last part. Popping an empty key is a no-op.
func (k *ConfigKey) Pop() {
	if len(k.parts) > 0 {
		k.parts = k.parts[:len(k.parts)-1]
	}
}

// Parts returns a copy of the parts.
func (k *ConfigKey) Parts() []string {
	return append([]string(nil), k.parts...)
}

// EnvKey is the environment variable for the key: the prefix and the parts
// joined by underscores, uppercased, with dashes turned into underscores.
func (k *ConfigKey) EnvKey() string {
	var b strings.Builder
	b.WriteString(EnvPrefix)
	for _, part := range k.parts {
		b.WriteByte('_')
		b.WriteString(strings.ToUpper(strings.ReplaceAll(part, "-", "_")))
	}
	return b.String()
}

// String is the dotted form.
func (k *ConfigKey) String() string {
	return strings.Join(k.parts, ".")
}
