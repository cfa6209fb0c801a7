package engine

import "strings"

// baseArgs is the flag profile every engine is launched with. The OS sandbox
// is unavailable in containers and serverless runtimes. Headless mode is set
// by each driver.
var baseArgs = []string{
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-dev-shm-usage",
	"--disable-gpu",
	"--hide-scrollbars",
	"--mute-audio",
	"--no-first-run",
	"--no-default-browser-check",
}

// constrainedArgs is appended for packaged binaries running with a single
// process budget.
var constrainedArgs = []string{
	"--single-process",
	"--no-zygote",
}

func mergeArgs(sets ...[]string) []string {
	seen := map[string]struct{}{}
	var merged []string
	for _, set := range sets {
		for _, arg := range set {
			name, _ := splitArg(arg)
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			merged = append(merged, arg)
		}
	}
	return merged
}

// splitArg turns "--name=value" into ("name", "value") and "--name" into
// ("name", "").
func splitArg(arg string) (string, string) {
	arg = strings.TrimLeft(arg, "-")
	name, value, _ := strings.Cut(arg, "=")
	return name, value
}
