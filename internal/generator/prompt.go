package generator

import (
	"fmt"
	"strings"
)

const runtimeGuide = `You write small command-line programs in Lua 5.1 for a sandboxed runtime.
Only these globals exist:
  print(...), io.write(...)      write to standard output
  io.stderr(msg)                 write to standard error
  args                           array of command-line arguments
  os.time(), os.date(fmt), os.clock(), os.exit(code)
  string, table, math            the standard Lua libraries
Host access is available only through modules that the user grants:
  fs.read(path) -> string, fs.list(dir) -> array, fs.exists(path) -> bool   needs read:<path>
  fs.write(path, data)                                                     needs write:<path>
  http.get(url) -> body, status                                            needs net:<host>
  env.get(name) -> string or nil                                           needs env:<NAME>
  exec.run(program, {args...}) -> stdout, stderr, exit_code                needs run:<program>
Request the narrowest permissions that work. A directory grant covers everything below it.
There is no shell; exec.run starts the program directly.

Answer with a single JSON object and nothing else:
{"name": "<command-name>", "explanation": "<one sentence>", "script": "<lua source>", "permissions": ["kind:target", ...]}
`

// buildPrompt renders the request sent to a remote model.
func buildPrompt(intent Intent, correction *Correction) string {
	var b strings.Builder
	b.WriteString(runtimeGuide)
	b.WriteString("\n")
	if intent.FreeForm {
		fmt.Fprintf(&b, "The user asked, in their own words: %q\n", intent.Text)
		b.WriteString("Pick a short lowercase command name made of letters, digits and dashes.\n")
	} else {
		fmt.Fprintf(&b, "Implement the command %q. The user typed: %q\n", intent.Name, intent.Text)
		fmt.Fprintf(&b, "Use %q as the name.\n", intent.Name)
	}
	if correction != nil {
		b.WriteString("\nThe previous version did not satisfy the user.\n")
		if correction.PreviousScript != "" {
			fmt.Fprintf(&b, "Previous script:\n%s\n", correction.PreviousScript)
		}
		if correction.PreviousStderr != "" {
			fmt.Fprintf(&b, "It wrote this to standard error:\n%s\n", correction.PreviousStderr)
		}
		if correction.Feedback != "" {
			fmt.Fprintf(&b, "User feedback: %s\n", correction.Feedback)
		}
		b.WriteString("Return a corrected program in the same JSON format.\n")
	}
	return b.String()
}
