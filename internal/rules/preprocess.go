package rules

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// ProcessorFunc transforms the whole raw text of a downloaded source before
// normalization.
type ProcessorFunc func(text string, log *slog.Logger) (string, error)

// PreProcessor pairs a transform with the identifier it is reported under.
type PreProcessor struct {
	Name string
	Fn   ProcessorFunc
}

// Built-in pre-processor identifiers.
const (
	ProcURLParser = "url_parser"
	ProcJSONArray = "json_array"
)

var builtins = map[string]ProcessorFunc{
	ProcURLParser: urlParser,
	ProcJSONArray: jsonArray,
}

// Resolve maps processor identifiers to processors once, at profile load
// time. Custom processors take precedence over built-ins of the same name;
// an unknown identifier is a configuration error.
func Resolve(names []string, custom map[string]ProcessorFunc) ([]PreProcessor, error) {
	var chain []PreProcessor
	for _, name := range names {
		fn, ok := custom[name]
		if !ok {
			fn, ok = builtins[name]
		}
		if !ok {
			return nil, fmt.Errorf("unknown pre-processor %q", name)
		}
		chain = append(chain, PreProcessor{Name: name, Fn: fn})
	}
	return chain, nil
}

// ApplyChain runs processors strictly in declared order, each consuming the
// previous output. A failing or panicking processor is logged under its own
// name and the chain continues from the pre-failure text; one bad processor
// never aborts the whole source.
func ApplyChain(chain []PreProcessor, text string, log *slog.Logger) string {
	for _, p := range chain {
		out, err := runProcessor(p, text, log)
		if err != nil {
			log.Warn("pre-processor failed", "processor", p.Name, "error", err)
			continue
		}
		text = out
	}
	return text
}

func runProcessor(p PreProcessor, text string, log *slog.Logger) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.Fn(text, log)
}

// urlParser extracts the host component of every URL-shaped line, dropping
// lines it cannot parse.
func urlParser(text string, _ *slog.Logger) (string, error) {
	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		u, err := url.Parse(strings.TrimSpace(line))
		if err != nil {
			continue
		}
		if host := u.Hostname(); host != "" {
			b.WriteString(host)
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}

// jsonArray parses the whole text as a JSON array of strings and joins the
// elements with newlines. A parse failure is logged and returns the input
// unchanged.
func jsonArray(text string, log *slog.Logger) (string, error) {
	var entries []string
	if err := json.Unmarshal([]byte(text), &entries); err != nil {
		log.Warn("source is not a JSON array of strings", "error", err)
		return text, nil
	}
	return strings.Join(entries, "\n"), nil
}
