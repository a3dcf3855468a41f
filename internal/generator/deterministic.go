package generator

import (
	"context"
	"fmt"
	"strings"
)

func init() {
	Register("deterministic", func(opts Options) (Generator, error) {
		return NewDeterministic(opts), nil
	})
}

// Deterministic returns fixed candidates for a known set of intents. It never
// touches the network and is the backend of the mock namespace.
type Deterministic struct {
	opts Options
}

func NewDeterministic(opts Options) *Deterministic {
	return &Deterministic{opts: opts}
}

type fixture struct {
	explanation string
	script      string
	permissions []string
	// revised replaces script when a correction is requested.
	revised string
}

var fixtures = map[string]fixture{
	"hello": {
		explanation: "Greets the user and echoes the arguments.",
		script:      `print("Hello from ergo! Arguments: " .. table.concat(args, " "))` + "\n",
	},
	"timestamp": {
		explanation: "Prints the current local time as YYYY-MM-DD_HH-MM-SS.",
		script:      `print(os.date("%Y-%m-%d_%H-%M-%S"))` + "\n",
	},
	"uuid": {
		explanation: "Prints a random version 4 UUID.",
		script: `local id = string.gsub("xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx", "[xy]", function(c)
  local v = (c == "x") and math.random(0, 15) or math.random(8, 11)
  return string.format("%x", v)
end)
print(id)
`,
	},
	"password": {
		explanation: "Prints a random lowercase password.",
		script: `local chars = "abcdefghijklmnopqrstuvwxyz"
local out = {}
for i = 1, 5 do
  local n = math.random(1, #chars)
  out[#out + 1] = string.sub(chars, n, n)
end
print(table.concat(out))
`,
		revised: `local chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*-_=+"
local length = tonumber(args[1]) or 24
local out = {}
for i = 1, length do
  local n = math.random(1, #chars)
  out[#out + 1] = string.sub(chars, n, n)
end
print(table.concat(out))
`,
	},
	"weather": {
		explanation: "Fetches a one-line weather report from wttr.in.",
		script: `local city = args[1] or ""
print(http.get("https://wttr.in/" .. city .. "?format=3"))
`,
		permissions: []string{"net:wttr.in"},
	},
	"project-info": {
		explanation: "Lists the current directory and shows git status.",
		script: `print("Project directory contents:")
for _, name in ipairs(fs.list(".")) do
  print("  " .. name)
end
local out, _, code = exec.run("git", {"status", "--short"})
if code == 0 then
  print("Git status:")
  io.write(out)
end
`,
		permissions: []string{"read:.", "run:git"},
	},
	"broken": {
		explanation: "Fails on purpose so the correction flow can be exercised.",
		script: `io.stderr("broken: not implemented yet\n")
os.exit(2)
`,
		revised: `print("broken: fixed")` + "\n",
	},
}

func (d *Deterministic) Generate(ctx context.Context, intent Intent, correction *Correction) (Candidate, error) {
	if err := ctx.Err(); err != nil {
		return Candidate{}, &Error{Kind: KindTimeout, Backend: "deterministic", Err: err}
	}
	name := intent.Name
	if intent.FreeForm && name == "" {
		name = Slug(intent.Text)
		if name == "" {
			name = "command"
		}
	}
	f := d.lookup(name, intent)
	script := f.script
	if correction != nil {
		if f.revised != "" {
			script = f.revised
		} else {
			script = "-- revised: " + luaComment(correction.Feedback) + "\n" + script
		}
	}
	return finalize("deterministic", draft{
		Name:        name,
		Script:      script,
		Permissions: f.permissions,
		Explanation: f.explanation,
	}, d.opts.Allow)
}

func (d *Deterministic) lookup(name string, intent Intent) fixture {
	if intent.FreeForm {
		return fixture{
			explanation: "Answers a free-form request with a canned reply.",
			script:      fmt.Sprintf("print(%s)\n", luaQuote("mock answer for: "+intent.Text)),
		}
	}
	if f, ok := fixtures[name]; ok {
		return f
	}
	if sub, ok := strings.CutPrefix(name, "git-"); ok && sub != "" {
		return fixture{
			explanation: fmt.Sprintf("Runs git %s with the given arguments.", sub),
			script: fmt.Sprintf(`local argv = {%s}
for i = 1, #args do
  argv[#argv + 1] = args[i]
end
local out, err, code = exec.run("git", argv)
io.write(out)
if err ~= "" then
  io.stderr(err)
end
os.exit(code)
`, luaQuote(sub)),
			permissions: []string{"run:git"},
		}
	}
	return fixture{
		explanation: "Placeholder generated in mock mode.",
		script: fmt.Sprintf(`print(%s)
if #args > 0 then
  print("Arguments: " .. table.concat(args, " "))
end
`, luaQuote("This is a generated command: "+name)),
	}
}
