package pipeline

import "regexp"

// rule is one denylist entry. The name is returned as the rejection reason.
type rule struct {
	name string
	re   *regexp.Regexp
}

// shellRules apply to code that a shell will interpret directly (bash, sh).
// They target destructive filesystem commands, fork bombs and device writes.
var shellRules = []rule{
	{"destructive remove of filesystem root", regexp.MustCompile(`(?m)\brm\s+(-{1,2}[\w-]+\s+)*-\w*[rR]\w*\s+(-{1,2}[\w-]+\s+)*/(\s|$|\*)`)},
	{"recursive permission change on root", regexp.MustCompile(`(?m)\b(chmod|chown)\s+-\w*R\w*\s+\S+\s+/(\s|$)`)},
	{"filesystem format command", regexp.MustCompile(`\bmkfs(\.\w+)?\b`)},
	{"raw write to block device", regexp.MustCompile(`\bdd\s+[^|\n]*of=/dev/(sd|nvme|vd|hd|mmcblk)`)},
	{"redirect onto block device", regexp.MustCompile(`>\s*/dev/(sd|nvme|vd|hd|mmcblk)`)},
	{"fork bomb", regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`)},
	{"fork bomb", regexp.MustCompile(`\w+\(\)\s*\{\s*\w+\s*\|\s*\w+\s*&\s*\}`)},
	{"host shutdown command", regexp.MustCompile(`\b(shutdown|reboot|poweroff|halt)\b`)},
	{"busy loop with no body", regexp.MustCompile(`while\s+(true|:)\s*;\s*do\s*(:)?\s*;?\s*done`)},
	{"overwrite of shell profile", regexp.MustCompile(`>\s*(~|/root|/home/\w+)/\.(bashrc|profile|bash_profile)`)},
}

// genericRules apply to every language. Interpreted code can shell out, so
// the most destructive idioms are screened regardless of dialect.
var genericRules = []rule{
	{"destructive remove of filesystem root", regexp.MustCompile(`rm\s+-\w*[rR]\w*f?\w*\s+/(\s|"|'|$|\*)`)},
	{"fork bomb", regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`)},
	{"raw write to block device", regexp.MustCompile(`/dev/(sd[a-z]|nvme\d|vd[a-z]|mmcblk\d)`)},
}

// shellDialects maps language ids onto the shell rule set.
var shellDialects = map[string]bool{
	"bash":  true,
	"sh":    true,
	"shell": true,
	"zsh":   true,
}

func rulesFor(language string) []rule {
	if shellDialects[language] {
		return shellRules
	}
	return genericRules
}

// defaultMultiline holds per-language patterns marking a line that opens a
// multiline statement, used for REPL prompt handling when no handler
// overrides them.
var defaultMultiline = map[string][]*regexp.Regexp{
	"python": {
		regexp.MustCompile(`:\s*$`),
		regexp.MustCompile(`\\\s*$`),
		regexp.MustCompile(`[({\[]\s*$`),
	},
	"javascript": {
		regexp.MustCompile(`[({\[]\s*$`),
		regexp.MustCompile(`=>\s*$`),
	},
	"bash": {
		regexp.MustCompile(`\\\s*$`),
		regexp.MustCompile(`\b(do|then|else|in)\s*$`),
		regexp.MustCompile(`\|\s*$`),
	},
}
