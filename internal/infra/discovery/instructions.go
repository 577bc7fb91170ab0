package discovery

import "fmt"

// InstallationInstructions returns human-readable guidance for installing
// a missing server executable. Advisory text only; never parsed.
func InstallationInstructions(language, executable string) string {
	switch language {
	case "go":
		return fmt.Sprintf("Install gopls with: go install golang.org/x/tools/gopls@latest (looked for %q)", executable)
	case "rust":
		return fmt.Sprintf("Install rust-analyzer with: rustup component add rust-analyzer (looked for %q)", executable)
	case "python":
		return fmt.Sprintf("Install a Python language server with: pip install python-lsp-server (looked for %q)", executable)
	case "typescript", "javascript":
		return fmt.Sprintf("Install the TypeScript language server with: npm install -g typescript-language-server typescript (looked for %q)", executable)
	case "c", "cpp":
		return fmt.Sprintf("Install clangd from your package manager, e.g.: apt install clangd (looked for %q)", executable)
	case "lua":
		return fmt.Sprintf("Install lua-language-server from https://github.com/LuaLS/lua-language-server/releases (looked for %q)", executable)
	default:
		return fmt.Sprintf("No analysis server found for %q: install %q and make sure it is on PATH", language, executable)
	}
}
