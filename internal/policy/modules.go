package policy

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
)

const decisionQuery = "data.researchd.tools.deny"

// builtinModule denies tools outside allowed_tools and any call whose domain
// is, or is below, a blocked domain.
const builtinModule = `package researchd.tools

deny[msg] {
	count(input.allowed_tools) > 0
	not tool_allowed
	msg := sprintf("tool %q is not allowed", [input.tool])
}

tool_allowed {
	input.allowed_tools[_] == input.tool
}

deny[msg] {
	input.domain != ""
	some i
	under(input.domain, input.blocked_domains[i])
	msg := sprintf("domain %q is blocked", [input.domain])
}

under(domain, blocked) {
	domain == blocked
}

under(domain, blocked) {
	endswith(domain, concat("", [".", blocked]))
}
`

var builtinModules = map[string]string{"builtin.rego": builtinModule}

// readModules collects every .rego file below dir, keyed by its slash path
// relative to dir.
func readModules(dir string) (map[string]string, error) {
	fsys := os.DirFS(dir)
	modules := make(map[string]string)
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != ".rego" {
			return nil
		}
		src, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		modules[p] = string(src)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read policies from %s: %w", dir, err)
	}
	if len(modules) == 0 {
		return nil, fmt.Errorf("no .rego files in %s", dir)
	}
	return modules, nil
}

func moduleNames(modules map[string]string) string {
	names := make([]string, 0, len(modules))
	for n := range modules {
		names = append(names, n)
	}
	return strings.Join(names, ",")
}
