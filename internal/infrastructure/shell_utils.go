package infrastructure

import "strings"

// shellSpecial lists characters that change meaning in a POSIX shell
const shellSpecial = " \t\n\r'\"$`\\!*?[](){}|;<>&~#%"

// ShellQuote quotes s for display in a shell command line.
// Commands are executed without a shell; this is for logs only.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, shellSpecial) {
		return s
	}
	// close the quote, emit a double-quoted ', reopen
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// CommandLine renders a binary and its arguments as one copy-pasteable line
func CommandLine(binary string, args ...string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, ShellQuote(binary))
	for _, arg := range args {
		parts = append(parts, ShellQuote(arg))
	}
	return strings.Join(parts, " ")
}
