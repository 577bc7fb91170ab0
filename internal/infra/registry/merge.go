package registry

import "langd/internal/domain"

// Merge layers registries in strict precedence order builtin → user →
// project → runtime. A later layer overwrites a language key wholesale (no
// per-entry merging) and overwrites global settings wholesale. Optional
// layers may be nil.
func Merge(builtin domain.ServerRegistry, user, project, runtime *domain.ServerRegistry) domain.ServerRegistry {
	out := domain.ServerRegistry{
		Global:  builtin.Global,
		Servers: make(map[string][]domain.ServerConfig),
	}
	copyServers(out.Servers, builtin.Servers)

	for _, layer := range []*domain.ServerRegistry{user, project, runtime} {
		if layer == nil {
			continue
		}
		out.Global = layer.Global
		copyServers(out.Servers, layer.Servers)
	}
	return out
}

func copyServers(dst map[string][]domain.ServerConfig, src map[string][]domain.ServerConfig) {
	for lang, entries := range src {
		copied := make([]domain.ServerConfig, len(entries))
		copy(copied, entries)
		dst[lang] = copied
	}
}
