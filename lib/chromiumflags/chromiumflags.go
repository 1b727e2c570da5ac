// Package chromiumflags composes Chromium command-line switches, keeping the
// extension related ones (--load-extension, --disable-extensions-except,
// --disable-extensions) consistent when several sources contribute them.
package chromiumflags

import (
	"strings"

	"github.com/samber/lo"
)

const (
	loadExtension    = "--load-extension="
	extensionsExcept = "--disable-extensions-except="
	disableAll       = "--disable-extensions"
)

// Parse splits a space-delimited string of flags into tokens. Quotes are not
// supported; each whitespace separated word is one token.
func Parse(input string) []string {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil
	}
	return strings.Fields(input)
}

// ExtensionFlags returns the switches that load exactly the unpacked
// extensions at paths and disable every other one.
func ExtensionFlags(paths ...string) []string {
	paths = lo.Compact(paths)
	if len(paths) == 0 {
		return nil
	}
	joined := strings.Join(paths, ",")
	return []string{extensionsExcept + joined, loadExtension + joined}
}

type bucket struct {
	other      []string
	load       []string
	except     []string
	disableAll bool
}

func appendCSV(dst []string, csv string) []string {
	for _, part := range strings.Split(csv, ",") {
		if p := strings.TrimSpace(part); p != "" {
			dst = append(dst, p)
		}
	}
	return dst
}

func split(tokens []string) bucket {
	var b bucket
	for _, tok := range tokens {
		switch {
		case strings.HasPrefix(tok, loadExtension):
			b.load = appendCSV(b.load, strings.TrimPrefix(tok, loadExtension))
		case strings.HasPrefix(tok, extensionsExcept):
			b.except = appendCSV(b.except, strings.TrimPrefix(tok, extensionsExcept))
		case tok == disableAll:
			b.disableAll = true
		default:
			b.other = append(b.other, tok)
		}
	}
	return b
}

// Merge combines base flags with overlay flags.
//
// Extension switches follow these rules:
//  1. --disable-extensions in overlay wins over everything extension related.
//  2. --disable-extensions in base is kept unless overlay loads an extension.
//  3. Otherwise load and except paths of both sides are unioned.
//
// All other tokens are concatenated and de-duplicated, first occurrence kept.
func Merge(base, overlay []string) []string {
	b, o := split(base), split(overlay)

	var ext []string
	switch {
	case o.disableAll:
		ext = []string{disableAll}
	case b.disableAll && len(o.load) == 0:
		ext = []string{disableAll}
		if except := lo.Uniq(lo.Compact(append(b.except, o.except...))); len(except) > 0 {
			ext = append(ext, extensionsExcept+strings.Join(except, ","))
		}
	default:
		if load := lo.Uniq(append(b.load, o.load...)); len(load) > 0 {
			ext = append(ext, loadExtension+strings.Join(load, ","))
		}
		if except := lo.Uniq(append(b.except, o.except...)); len(except) > 0 {
			ext = append(ext, extensionsExcept+strings.Join(except, ","))
		}
	}

	combined := append(append(append([]string{}, b.other...), o.other...), ext...)
	return lo.Uniq(lo.Compact(combined))
}

// Switches converts tokens of the form --name or --name=value into a map from
// switch name to value. Bare switches map to true, valued ones to their string
// value. A later token for the same name replaces an earlier one.
func Switches(tokens []string) map[string]any {
	out := make(map[string]any, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimLeft(strings.TrimSpace(tok), "-")
		if tok == "" {
			continue
		}
		name, value, ok := strings.Cut(tok, "=")
		if !ok {
			out[name] = true
			continue
		}
		out[name] = value
	}
	return out
}
